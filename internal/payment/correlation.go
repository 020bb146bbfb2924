package payment

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/subgate/internal/model"
)

const (
	correlationVersion = "v1"
	correlationFields  = 6
	// MaxPayloadBytes はBot APIのinvoice payloadの上限。
	MaxPayloadBytes = 128
)

// EncodeCorrelation は照合情報を請求書のpayloadに埋め込める文字列にする。
// 形式は v1.<payment>.<user>.<tier>.<service>.<merchant> で、各IDは16バイトのUUIDを
// パディングなしbase64urlで表す。
func EncodeCorrelation(c model.Correlation) (string, error) {
	ids := []struct{ name, value string }{
		{"payment", c.PaymentID},
		{"user", c.UserID},
		{"tier", c.TierID},
		{"service", c.ServiceID},
		{"merchant", c.MerchantID},
	}

	parts := make([]string, 0, correlationFields)
	parts = append(parts, correlationVersion)
	for _, id := range ids {
		u, err := uuid.Parse(id.value)
		if err != nil {
			return "", fmt.Errorf("%w: %s id %q", model.ErrInvalidCorrelation, id.name, id.value)
		}
		parts = append(parts, base64.RawURLEncoding.EncodeToString(u[:]))
	}
	return strings.Join(parts, "."), nil
}

// DecodeCorrelation はpayloadを照合情報に戻す。
// バージョン、フィールド数、各IDの形式のいずれかが不正ならmodel.ErrInvalidCorrelationを返す。
func DecodeCorrelation(payload string) (model.Correlation, error) {
	if len(payload) > MaxPayloadBytes {
		return model.Correlation{}, fmt.Errorf("%w: payload too long", model.ErrInvalidCorrelation)
	}
	parts := strings.Split(payload, ".")
	if len(parts) != correlationFields || parts[0] != correlationVersion {
		return model.Correlation{}, fmt.Errorf("%w: unexpected layout", model.ErrInvalidCorrelation)
	}

	ids := make([]string, 0, correlationFields-1)
	for _, part := range parts[1:] {
		raw, err := base64.RawURLEncoding.DecodeString(part)
		if err != nil {
			return model.Correlation{}, fmt.Errorf("%w: %v", model.ErrInvalidCorrelation, err)
		}
		u, err := uuid.FromBytes(raw)
		if err != nil {
			return model.Correlation{}, fmt.Errorf("%w: %v", model.ErrInvalidCorrelation, err)
		}
		ids = append(ids, u.String())
	}

	return model.Correlation{
		PaymentID:  ids[0],
		UserID:     ids[1],
		TierID:     ids[2],
		ServiceID:  ids[3],
		MerchantID: ids[4],
	}, nil
}
