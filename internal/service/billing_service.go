package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/payment"

	"github.com/stripe/stripe-go/v76"
)

// PlanForUser 返回用户当前生效的订阅档位。
// 订阅过期或从未订阅都回落到免费档位。
func PlanForUser(user *model.User) config.PlanConfig {
	if user.IsSubscribed() {
		return config.PlanByPriceID(user.StripePriceID)
	}
	return config.PlanBySlug("free")
}

// PlanStatus 是 GetPlan 返回给前端的档位视图。
type PlanStatus struct {
	Plan         config.PlanConfig `json:"plan"`
	IsSubscribed bool              `json:"isSubscribed"`
	// IsCanceled 表示订阅已取消但仍在已付费周期内。
	IsCanceled             bool       `json:"isCanceled"`
	StripeCurrentPeriodEnd *time.Time `json:"stripeCurrentPeriodEnd,omitempty"`
}

// BillingService 接口定义了订阅计费相关的业务操作。
type BillingService interface {
	GetPlan(ctx context.Context, userID uint) (*PlanStatus, error)
	// CreateSession 返回一个跳转 URL：已订阅用户进入 Stripe 客户门户管理订阅，
	// 未订阅用户进入结账页购买 Pro 档位。
	CreateSession(ctx context.Context, userID uint) (string, error)
	// HandleWebhook 校验并处理 Stripe 回调事件。
	HandleWebhook(payload []byte, sigHeader string) error
}

type billingService struct {
	userRepo   repository.UserRepository
	billingCfg config.BillingConfig
}

// NewBillingService 创建一个新的 BillingService 实例。
func NewBillingService(userRepo repository.UserRepository, billingCfg config.BillingConfig) BillingService {
	return &billingService{
		userRepo:   userRepo,
		billingCfg: billingCfg,
	}
}

// GetPlan 返回用户当前档位及订阅状态。
func (s *billingService) GetPlan(ctx context.Context, userID uint) (*PlanStatus, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}

	status := &PlanStatus{
		Plan:                   PlanForUser(user),
		IsSubscribed:           user.IsSubscribed(),
		StripeCurrentPeriodEnd: user.StripeCurrentPeriodEnd,
	}

	// 已订阅用户查询 Stripe 判断是否已设置周期末取消
	if status.IsSubscribed && user.StripeSubscriptionID != "" {
		sub, err := payment.GetSubscription(user.StripeSubscriptionID)
		if err != nil {
			log.Warnf("[BillingService] 查询 Stripe 订阅失败, userID: %d, error: %v", userID, err)
		} else {
			status.IsCanceled = sub.CancelAtPeriodEnd
		}
	}
	return status, nil
}

// CreateSession 创建结账或门户会话。
func (s *billingService) CreateSession(ctx context.Context, userID uint) (string, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return "", err
	}

	// 已订阅且有 Stripe 客户记录：进入客户门户
	if user.IsSubscribed() && user.StripeCustomerID != "" {
		return payment.CreatePortalSession(user.StripeCustomerID, s.billingCfg.BillingURL)
	}

	proPlan := config.PlanBySlug("pro")
	if proPlan.StripePriceID == "" {
		return "", errors.New("未配置 Pro 档位的 Stripe 价格")
	}
	return payment.CreateCheckoutSession(
		proPlan.StripePriceID,
		s.billingCfg.BillingURL,
		s.billingCfg.BillingURL,
		strconv.FormatUint(uint64(user.ID), 10),
	)
}

// HandleWebhook 处理 Stripe 回调。
// checkout.session.completed：首次订阅成功，写入全部 Stripe 字段。
// invoice.payment_succeeded：续费成功，刷新价格与周期截止时间。
func (s *billingService) HandleWebhook(payload []byte, sigHeader string) error {
	event, err := payment.ConstructWebhookEvent(payload, sigHeader, s.billingCfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: webhook 签名校验失败", model.ErrValidation)
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("解析 checkout session 失败: %w", err)
		}
		return s.handleCheckoutCompleted(&session)

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("解析 invoice 失败: %w", err)
		}
		return s.handleInvoicePaid(&invoice)

	default:
		// 未订阅处理的事件类型直接确认，避免 Stripe 反复重发
		log.Debugf("[BillingService] 忽略 webhook 事件类型: %s", event.Type)
		return nil
	}
}

// handleCheckoutCompleted 将结账会话关联的订阅写入用户记录。
func (s *billingService) handleCheckoutCompleted(session *stripe.CheckoutSession) error {
	userIDStr := session.Metadata["userId"]
	if userIDStr == "" {
		return fmt.Errorf("%w: checkout session 缺少 userId metadata", model.ErrValidation)
	}
	userID, err := strconv.ParseUint(userIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: 非法的 userId metadata: %s", model.ErrValidation, userIDStr)
	}

	user, err := s.userRepo.FindByID(uint(userID))
	if err != nil {
		return err
	}
	if session.Subscription == nil {
		return fmt.Errorf("%w: checkout session 未关联订阅", model.ErrValidation)
	}

	sub, err := payment.GetSubscription(session.Subscription.ID)
	if err != nil {
		return fmt.Errorf("查询 Stripe 订阅失败: %w", err)
	}
	if len(sub.Items.Data) == 0 {
		return errors.New("Stripe 订阅不包含任何条目")
	}

	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)
	user.StripeCustomerID = sub.Customer.ID
	user.StripeSubscriptionID = sub.ID
	user.StripePriceID = sub.Items.Data[0].Price.ID
	user.StripeCurrentPeriodEnd = &periodEnd

	if err := s.userRepo.Update(user); err != nil {
		return err
	}
	log.Infof("[BillingService] 用户订阅已激活, userID: %d, priceID: %s", user.ID, user.StripePriceID)
	return nil
}

// handleInvoicePaid 在续费成功后刷新订阅周期。
func (s *billingService) handleInvoicePaid(invoice *stripe.Invoice) error {
	if invoice.Subscription == nil {
		// 非订阅账单，忽略
		return nil
	}

	sub, err := payment.GetSubscription(invoice.Subscription.ID)
	if err != nil {
		return fmt.Errorf("查询 Stripe 订阅失败: %w", err)
	}
	if sub.Customer == nil || len(sub.Items.Data) == 0 {
		return errors.New("Stripe 订阅数据不完整")
	}

	user, err := s.userRepo.FindByStripeCustomerID(sub.Customer.ID)
	if err != nil {
		return err
	}

	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)
	user.StripePriceID = sub.Items.Data[0].Price.ID
	user.StripeCurrentPeriodEnd = &periodEnd

	if err := s.userRepo.Update(user); err != nil {
		return err
	}
	log.Infof("[BillingService] 用户订阅周期已刷新, userID: %d, periodEnd: %s", user.ID, periodEnd.Format(time.RFC3339))
	return nil
}
