package service

import (
	"errors"
	"fmt"

	"offerledger/pkg/amount"
)

var (
	ErrInsufficientCredits   = errors.New("点数不足")
	ErrAlreadyApplied        = errors.New("该事件已处理")
	ErrProcessorUnavailable  = errors.New("支付渠道暂不可用，请稍后重试")
	ErrSignatureVerification = errors.New("回调签名校验失败")
	ErrAttributionRaceLost   = errors.New("归因记录已被并发写入")

	ErrUnlockInProgress   = errors.New("该页正在解锁中，请勿重复提交")
	ErrPayoutInProgress   = errors.New("提现处理中，请勿重复提交")
	ErrInvalidPage        = errors.New("页码无效")
	ErrCollectionNotFound = errors.New("学校不存在或暂无内容")

	ErrUnknownPlan       = errors.New("套餐不存在")
	ErrMissingMetadata   = errors.New("支付会话缺少 accountId 或 planId")
	ErrSessionNotOwned   = errors.New("支付会话不属于当前账户")
	ErrNoPayoutAccount   = errors.New("尚未设置收款账户")
	ErrPayoutRejected    = errors.New("支付渠道拒绝了本次提现")
	ErrItemImmutable     = errors.New("内容已审核通过，不能再修改")
	ErrInvalidModeration = errors.New("审核结果只能是 APPROVED 或 REJECTED")
	ErrInvalidInput      = errors.New("参数错误")
)

// InsufficientCreditsError 带上需要的点数和当前余额
// errors.Is(err, ErrInsufficientCredits) 成立
type InsufficientCreditsError struct {
	Required amount.Credits
	Balance  amount.Credits
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("点数不足: 需要 %s, 余额 %s", e.Required, e.Balance)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// IsPermanent 重试也不会成功的错误，回调场景下直接返回 4xx
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMissingMetadata) ||
		errors.Is(err, ErrUnknownPlan) ||
		errors.Is(err, ErrInvalidInput)
}
