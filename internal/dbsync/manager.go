// Package dbsync keeps the local SQLite file and its copy in the object store
// consistent: pull the whole file at startup, push the whole file after every
// mutation. There is no distributed lock; concurrent writers in different
// processes race and the last push wins unless Options.CheckRevision is set.
package dbsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"taleBook/internal/database"
	"taleBook/internal/metrics"
	"taleBook/internal/storage"
)

var (
	// ErrRemoteNotFound 表示远端从未存在过数据库对象。
	ErrRemoteNotFound = errors.New("remote database not found")
	// ErrIntegrity 表示下载的文件未通过结构完整性校验，或其表结构无法迁移到当前版本。
	ErrIntegrity = errors.New("remote database failed integrity check")
	// ErrTransient 表示网络或权限类错误，按重试策略处理。
	ErrTransient = errors.New("transient object store error")
	// ErrRevisionConflict 表示推送前发现远端版本已被其他实例改写。
	ErrRevisionConflict = errors.New("remote database revision changed")
	// ErrPushFailed 包装推送阶段的最终失败。
	ErrPushFailed = errors.New("push database failed")
)

// Source 描述一次拉取后本地数据库的来源。
type Source string

const (
	// SourceRemote 远端文件下载并校验成功。
	SourceRemote Source = "remote"
	// SourceEmpty 远端不存在，初始化为空库。
	SourceEmpty Source = "empty"
	// SourceRecovered 远端损坏或不可达，重试耗尽后回落为空库。
	SourceRecovered Source = "recovered"
)

// Remote 是同步层依赖的对象存储能力，由 *storage.Client 实现。
type Remote interface {
	Download(ctx context.Context, key, dstPath string) (string, error)
	Upload(ctx context.Context, key, srcPath string) (string, error)
	Revision(ctx context.Context, key string) (string, error)
}

var _ Remote = (*storage.Client)(nil)

// Options 配置同步策略。
type Options struct {
	// Key 是远端数据库对象的固定 key。
	Key string
	// Attempts 是每次拉取/推送的最大尝试次数。
	Attempts int
	// Backoff 是两次尝试之间的固定等待。
	Backoff time.Duration
	// CheckRevision 开启后，推送前比较远端 ETag，被他人改写则拒绝推送。
	CheckRevision bool
}

// PullResult 汇总一次拉取。
type PullResult struct {
	Source   Source
	Revision string
	Attempts int
	// LastErr 是回落为空库前最后一次失败的原因。
	LastErr error
}

// Manager 持有本地数据库文件、其内存镜像以及远端副本的版本信息。
type Manager struct {
	remote Remote
	store  *database.Store
	opts   Options
	logger *slog.Logger

	mu            sync.RWMutex
	state         State
	revision      string
	revisionKnown bool
}

// NewManager 构造 Manager。镜像在第一次 Pull 之前为空。
func NewManager(remote Remote, store *database.Store, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	return &Manager{
		remote: remote,
		store:  store,
		opts:   opts,
		logger: logger.With(slog.String("component", "dbsync"), slog.String("key", opts.Key)),
		state:  emptyState(),
	}
}

// Store 返回底层本地存储。
func (m *Manager) Store() *database.Store {
	return m.store
}

// Revision 返回最近一次同步时看到的远端版本。
func (m *Manager) Revision() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Snapshot 返回当前内存镜像。镜像在每次刷新时整体替换，返回值可安全并发读取，但不得修改。
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Pull 丢弃本地旧副本，下载远端文件并校验，然后重建内存镜像。
// 远端缺失、损坏或不可达都不会返回错误：前者初始化空库，后两者重试耗尽后回落为空库。
// 只有本地文件系统或 ctx 取消才会返回错误。
func (m *Manager) Pull(ctx context.Context) (PullResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.store.Path()
	if err := removeLocal(path); err != nil {
		return PullResult{}, err
	}

	tmp := path + ".download"
	result := PullResult{Source: SourceRecovered}

	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		result.Attempts = attempt

		revision, err := m.fetch(ctx, tmp)
		if err == nil {
			if err := os.Rename(tmp, path); err != nil {
				_ = os.Remove(tmp)
				return result, fmt.Errorf("install downloaded database: %w", err)
			}
			result.Source = SourceRemote
			result.Revision = revision
			break
		}
		if rerr := removeLocal(tmp); rerr != nil {
			return result, rerr
		}

		if errors.Is(err, ErrRemoteNotFound) {
			result.Source = SourceEmpty
			break
		}

		result.LastErr = err
		m.logger.Warn("pull attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", m.opts.Attempts),
			slog.Any("error", err),
		)
		if attempt < m.opts.Attempts {
			if err := m.wait(ctx); err != nil {
				return result, err
			}
		}
	}

	if result.Source != SourceRemote {
		// 回落路径：确保不残留任何半成品文件，再建空表。
		if err := removeLocal(path); err != nil {
			return result, err
		}
	}
	if err := m.store.EnsureSchema(ctx); err != nil {
		return result, fmt.Errorf("ensure schema: %w", err)
	}

	switch result.Source {
	case SourceRemote:
		m.revision, m.revisionKnown = result.Revision, true
	case SourceEmpty:
		m.revision, m.revisionKnown = "", true
	default:
		m.revision, m.revisionKnown = "", false
		m.logger.Error("remote database unusable, continuing with an empty database",
			slog.Int("attempts", result.Attempts),
			slog.Any("error", result.LastErr),
		)
	}

	if err := m.reload(ctx); err != nil {
		return result, err
	}

	metrics.ObservePull(string(result.Source))
	m.logger.Info("database pulled",
		slog.String("source", string(result.Source)),
		slog.String("revision", result.Revision),
		slog.Int("accounts", len(m.state.Accounts)),
		slog.Int("stories", len(m.state.Stories)),
	)
	return result, nil
}

// Push 无条件上传整个本地文件到固定 key。
func (m *Manager) Push(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.push(ctx)
}

// Mutate 串行执行一次写操作，刷新内存镜像，然后推送。
// fn 返回错误时不会推送，但仍会按本地文件重建镜像：fn 在出错前可能已经提交了部分写入，
// 这些写入会随下一次成功推送一起上传。推送失败时同理。
func (m *Manager) Mutate(ctx context.Context, fn func(store *database.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := fn(m.store); err != nil {
		if rerr := m.reload(ctx); rerr != nil {
			m.logger.Error("reload after failed mutation", slog.Any("error", rerr))
		}
		m.logger.Warn("mutation failed, nothing pushed", slog.Any("error", err))
		return err
	}
	if err := m.reload(ctx); err != nil {
		return err
	}
	return m.push(ctx)
}

// Refresh 仅从本地文件重建内存镜像，不访问远端。
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reload(ctx)
}

func (m *Manager) fetch(ctx context.Context, tmp string) (string, error) {
	revision, err := m.remote.Download(ctx, m.opts.Key, tmp)
	metrics.ObserveAttempt("download", err)
	if err != nil {
		if storage.IsNoSuchKey(err) || storage.IsNoSuchBucket(err) {
			return "", fmt.Errorf("%w: %v", ErrRemoteNotFound, err)
		}
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := database.CheckIntegrity(ctx, tmp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	// 结构完好但表结构对不上（例如旧版本的表）同样不可信：在临时文件上迁移，失败按损坏处理。
	if err := database.Open(tmp, m.logger).EnsureSchema(ctx); err != nil {
		return "", fmt.Errorf("%w: incompatible schema: %v", ErrIntegrity, err)
	}
	return revision, nil
}

func (m *Manager) push(ctx context.Context) error {
	if m.opts.CheckRevision {
		if err := m.checkRevision(ctx); err != nil {
			metrics.ObservePush("conflict")
			return fmt.Errorf("%w: %w", ErrPushFailed, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		revision, err := m.remote.Upload(ctx, m.opts.Key, m.store.Path())
		metrics.ObserveAttempt("upload", err)
		if err == nil {
			m.revision, m.revisionKnown = revision, true
			metrics.ObservePush("ok")
			m.logger.Info("database pushed", slog.String("revision", revision), slog.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		m.logger.Warn("push attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", m.opts.Attempts),
			slog.Any("error", err),
		)
		if attempt < m.opts.Attempts {
			if err := m.wait(ctx); err != nil {
				return fmt.Errorf("%w: %w", ErrPushFailed, err)
			}
		}
	}

	metrics.ObservePush("error")
	return fmt.Errorf("%w: %w: %v", ErrPushFailed, ErrTransient, lastErr)
}

func (m *Manager) checkRevision(ctx context.Context) error {
	if !m.revisionKnown {
		return fmt.Errorf("%w: remote revision unknown since last pull", ErrRevisionConflict)
	}
	current, err := m.remote.Revision(ctx, m.opts.Key)
	metrics.ObserveAttempt("stat", err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if current != m.revision {
		m.logger.Warn("remote database changed since last sync",
			slog.String("expected", m.revision),
			slog.String("actual", current),
		)
		return fmt.Errorf("%w: expected %q, found %q", ErrRevisionConflict, m.revision, current)
	}
	return nil
}

func (m *Manager) wait(ctx context.Context) error {
	if m.opts.Backoff <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.opts.Backoff):
		return nil
	}
}

func removeLocal(path string) error {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale %q: %w", p, err)
		}
	}
	return nil
}
