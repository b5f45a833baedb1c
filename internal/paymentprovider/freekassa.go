// Package paymentprovider содержит клиенты платёжных систем:
// Freekassa (оплата в рублях по подписанной ссылке) и CryptoCloud
// (криптовалютные инвойсы). Оба провайдера подтверждают оплату
// вебхуком на адрес сервиса.
package paymentprovider

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// Freekassa формирует подписанные платёжные ссылки и проверяет
// подписи уведомлений.
type Freekassa struct {
	shopID     string
	secretKey1 string
	secretKey2 string
	price      float64
}

// NewFreekassa создаёт клиент Freekassa. secretKey1 подписывает ссылки
// на оплату, secretKey2 — уведомления о платеже.
func NewFreekassa(shopID, secretKey1, secretKey2 string, priceRUB float64) *Freekassa {
	return &Freekassa{
		shopID:     shopID,
		secretKey1: secretKey1,
		secretKey2: secretKey2,
		price:      priceRUB,
	}
}

// CreatePayment формирует платёжную ссылку для пользователя.
// Подпись — md5 от shopID:amount:secretKey1:RUB:orderID.
func (f *Freekassa) CreatePayment(userID int64) (paymentURL, orderID string, amount float64) {
	orderID = fmt.Sprintf("freekassa_%d_%s", userID, uuid.NewString()[:8])
	amountStr := formatAmount(f.price)

	sign := md5Hex(fmt.Sprintf("%s:%s:%s:RUB:%s", f.shopID, amountStr, f.secretKey1, orderID))

	q := url.Values{}
	q.Set("m", f.shopID)
	q.Set("oa", amountStr)
	q.Set("o", orderID)
	q.Set("s", sign)
	q.Set("currency", "RUB")
	return "https://pay.freekassa.ru/?" + q.Encode(), orderID, f.price
}

// VerifyNotification проверяет подпись уведомления о платеже.
// Freekassa подписывает уведомление вторым секретом:
// md5 от shopID:amount:secretKey2:orderID, где amount — строка
// из самого уведомления.
func (f *Freekassa) VerifyNotification(amount, orderID, sign string) bool {
	expected := md5Hex(fmt.Sprintf("%s:%s:%s:%s", f.shopID, amount, f.secretKey2, orderID))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sign)) == 1
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
