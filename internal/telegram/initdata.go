package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInitDataMaxAge は起動データの既定の有効期間。
const DefaultInitDataMaxAge = 24 * time.Hour

var (
	ErrInitDataInvalid = errors.New("init data signature mismatch")
	ErrInitDataExpired = errors.New("init data expired")
)

// InitData は検証済みのミニアプリ起動データ。
type InitData struct {
	User     User
	AuthDate time.Time
	QueryID  string
}

// VerifyInitData はミニアプリの起動データを検証する。
// 鍵はHMAC-SHA256("WebAppData", botToken)、署名対象はhash以外のキーを昇順に
// "key=value"で改行連結した文字列。auth_dateがmaxAgeより古いものは拒否する。
func VerifyInitData(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitDataInvalid, err)
	}

	received, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(received) != sha256.Size {
		return nil, ErrInitDataInvalid
	}
	if !hmac.Equal(received, signInitData(values, botToken)) {
		return nil, ErrInitDataInvalid
	}

	authUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: missing auth_date", ErrInitDataInvalid)
	}
	authDate := time.Unix(authUnix, 0)
	if maxAge > 0 && now.Sub(authDate) > maxAge {
		return nil, ErrInitDataExpired
	}

	var user User
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return nil, fmt.Errorf("%w: missing user", ErrInitDataInvalid)
	}

	return &InitData{User: user, AuthDate: authDate, QueryID: values.Get("query_id")}, nil
}

// signInitData はhashを除いた値の署名を返す。
func signInitData(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}
