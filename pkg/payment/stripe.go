// Package payment 封装了 Stripe 支付会话与订阅相关的调用。
package payment

import (
	"docuchat-go/pkg/log"

	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
)

// InitStripe 设置全局 Stripe API Key。
func InitStripe(secretKey string) {
	stripe.Key = secretKey
	log.Info("Stripe 客户端初始化成功")
}

// CreateCheckoutSession 创建一个订阅结账会话，返回跳转 URL。
// userID 写入 metadata，webhook 回调时据此定位用户。
func CreateCheckoutSession(priceID, successURL, cancelURL, userID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		SuccessURL:         stripe.String(successURL),
		CancelURL:          stripe.String(cancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("userId", userID)

	s, err := checkoutsession.New(params)
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

// CreatePortalSession 为已订阅用户创建账单管理门户会话，返回跳转 URL。
func CreatePortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	s, err := portalsession.New(params)
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

// GetSubscription 查询订阅详情。
func GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	return subscription.Get(subscriptionID, nil)
}

// ConstructWebhookEvent 校验 webhook 签名并解析事件。
func ConstructWebhookEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, secret)
}
