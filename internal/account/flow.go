package account

import (
	"errors"
	"fmt"
)

// Step 是密码重置流程所处的阶段。
type Step string

const (
	StepEmailEntry    Step = "email_entry"
	StepCodeSent      Step = "code_sent"
	StepCodeValidated Step = "code_validated"
	StepPasswordReset Step = "password_reset"
)

// ErrInvalidTransition 表示在错误的阶段调用了流程方法。
var ErrInvalidTransition = errors.New("invalid reset flow transition")

// ResetFlow 记录一次重置会话：email_entry → code_sent → code_validated → password_reset → email_entry。
// 非并发安全，由持有者加锁。
type ResetFlow struct {
	step        Step
	emailDigest string
}

// NewResetFlow 返回处于 email_entry 的流程。
func NewResetFlow() *ResetFlow {
	return &ResetFlow{step: StepEmailEntry}
}

func (f *ResetFlow) Step() Step {
	return f.step
}

// EmailDigest 返回发送验证码时绑定的邮箱摘要。
func (f *ResetFlow) EmailDigest() string {
	return f.emailDigest
}

// CodeSent 绑定邮箱摘要。允许在 code_sent 阶段重复调用以重发验证码。
func (f *ResetFlow) CodeSent(emailDigest string) error {
	if f.step != StepEmailEntry && f.step != StepCodeSent {
		return f.invalid(StepCodeSent)
	}
	f.step = StepCodeSent
	f.emailDigest = emailDigest
	return nil
}

func (f *ResetFlow) Validated() error {
	if f.step != StepCodeSent {
		return f.invalid(StepCodeValidated)
	}
	f.step = StepCodeValidated
	return nil
}

func (f *ResetFlow) Completed() error {
	if f.step != StepCodeValidated {
		return f.invalid(StepPasswordReset)
	}
	f.step = StepPasswordReset
	return nil
}

// Restart 在重置成功后回到起点，清除绑定的邮箱。
func (f *ResetFlow) Restart() error {
	if f.step != StepPasswordReset {
		return f.invalid(StepEmailEntry)
	}
	f.step = StepEmailEntry
	f.emailDigest = ""
	return nil
}

func (f *ResetFlow) invalid(to Step) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.step, to)
}
