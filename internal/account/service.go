package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"taleBook/internal/database"
	"taleBook/internal/dbsync"
)

var (
	// ErrInvalidRegistration 表示注册信息缺少必填字段。
	ErrInvalidRegistration = errors.New("invalid registration")
	// ErrEmptyPassword 表示新密码为空。
	ErrEmptyPassword = errors.New("password must not be empty")

	errTaken = errors.New("username or email already registered")
)

// Syncer 是账号服务需要的同步能力，由 *dbsync.Manager 实现。
// Mutate 的回调内不得调用 Snapshot。
type Syncer interface {
	Snapshot() dbsync.State
	Mutate(ctx context.Context, fn func(store *database.Store) error) error
}

// Notifier 负责把重置码发给用户。
type Notifier interface {
	SendResetCode(ctx context.Context, to, username, code string) error
}

// Registration 是注册表单。CharacterDescription 非空时同时以用户名创建角色。
type Registration struct {
	Username             string
	Password             string
	Email                string
	Sex                  string
	Age                  int
	CharacterDescription string
}

// Service 实现注册、登录与密码重置。所有读取走内存镜像，所有写入经 Syncer 推送到远端。
type Service struct {
	sync     Syncer
	notifier Notifier
	logger   *slog.Logger
}

// NewService 构造账号服务。notifier 为 nil 时只记录日志，不发邮件。
func NewService(sync Syncer, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sync:     sync,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "account")),
	}
}

// Register 创建账号。用户名已存在或邮箱摘要冲突时返回 false 且不做任何修改。
// 本地已提交但推送失败时返回 true 和包装了 dbsync.ErrPushFailed 的错误。
func (s *Service) Register(ctx context.Context, reg Registration) (bool, error) {
	if reg.Password == "" {
		return false, fmt.Errorf("%w: %v", ErrInvalidRegistration, ErrEmptyPassword)
	}
	emailDigest := Digest(reg.Email)
	acc, err := database.NewAccount(reg.Username, Digest(reg.Password), emailDigest, reg.Sex, reg.Age)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}

	var character *database.Character
	if desc := strings.TrimSpace(reg.CharacterDescription); desc != "" {
		c, err := database.NewCharacter(acc.Username, desc)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
		}
		character = &c
	}

	err = s.sync.Mutate(ctx, func(store *database.Store) error {
		// 在写锁内对照本地文件检查，避免两个请求同时通过内存镜像的检查。
		accounts, err := store.LoadAccounts(ctx)
		if err != nil {
			return err
		}
		if _, exists := accounts[acc.Username]; exists {
			return errTaken
		}
		for _, existing := range accounts {
			if existing.EmailDigest == emailDigest {
				return errTaken
			}
		}

		if err := store.InsertAccount(ctx, acc); err != nil {
			return err
		}
		if character != nil {
			return store.SaveCharacter(ctx, *character)
		}
		return nil
	})
	switch {
	case errors.Is(err, errTaken), errors.Is(err, database.ErrDuplicate):
		s.logger.Info("registration rejected", slog.String("username", acc.Username))
		return false, nil
	case errors.Is(err, dbsync.ErrPushFailed):
		return true, err
	case err != nil:
		return false, fmt.Errorf("register %q: %w", acc.Username, err)
	}

	s.logger.Info("account registered", slog.String("username", acc.Username))
	return true, nil
}

// Authenticate 当且仅当账号存在且密码摘要一致时返回 true。
func (s *Service) Authenticate(username, password string) bool {
	acc, ok := s.sync.Snapshot().Accounts[username]
	return ok && acc.PasswordDigest == Digest(password)
}

// Account 按用户名查找账号。
func (s *Service) Account(username string) (database.Account, bool) {
	acc, ok := s.sync.Snapshot().Accounts[username]
	return acc, ok
}

// ListStories 返回某个账号的全部故事。
func (s *Service) ListStories(username string) []database.Story {
	return s.sync.Snapshot().StoriesBy(username)
}

// RequestReset 为邮箱对应的账号生成并保存重置码，然后发送邮件。
// 邮箱未注册时返回 (nil, false, nil)。邮件发送失败只记录日志。
func (s *Service) RequestReset(ctx context.Context, email string) (*ResetFlow, bool, error) {
	emailDigest := Digest(email)
	acc, ok := s.sync.Snapshot().AccountByEmailDigest(emailDigest)
	if !ok {
		return nil, false, nil
	}

	code, err := NewResetCode()
	if err != nil {
		return nil, false, err
	}

	var pushErr error
	err = s.sync.Mutate(ctx, func(store *database.Store) error {
		return store.UpdateResetCode(ctx, acc.Username, code)
	})
	switch {
	case errors.Is(err, dbsync.ErrPushFailed):
		pushErr = err
	case errors.Is(err, database.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("store reset code: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendResetCode(ctx, email, acc.Username, code); err != nil {
			s.logger.Error("send reset code failed", slog.String("username", acc.Username), slog.Any("error", err))
		}
	} else {
		s.logger.Warn("no notifier configured, reset code not sent", slog.String("username", acc.Username))
	}

	flow := NewResetFlow()
	if err := flow.CodeSent(emailDigest); err != nil {
		return nil, false, err
	}
	return flow, true, pushErr
}

// ValidateCode 比较账号保存的重置码与 code，必须完全一致，不做过期判断。
func (s *Service) ValidateCode(emailDigest, code string) bool {
	if code == "" {
		return false
	}
	acc, ok := s.sync.Snapshot().AccountByEmailDigest(emailDigest)
	return ok && acc.HasResetCode(code)
}

// ResetPassword 覆盖密码摘要并清除重置码。邮箱摘要无匹配账号时返回 false。
func (s *Service) ResetPassword(ctx context.Context, emailDigest, newPassword string) (bool, error) {
	if newPassword == "" {
		return false, ErrEmptyPassword
	}
	acc, ok := s.sync.Snapshot().AccountByEmailDigest(emailDigest)
	if !ok {
		return false, nil
	}

	err := s.sync.Mutate(ctx, func(store *database.Store) error {
		return store.UpdatePassword(ctx, acc.Username, Digest(newPassword))
	})
	switch {
	case errors.Is(err, dbsync.ErrPushFailed):
		return true, err
	case errors.Is(err, database.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("reset password for %q: %w", acc.Username, err)
	}

	s.logger.Info("password reset", slog.String("username", acc.Username))
	return true, nil
}
