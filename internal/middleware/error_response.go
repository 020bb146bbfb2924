package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/subgate/internal/model"
)

// ErrorResponseBody はAPIエラーのJSON表現。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusFor はエラーコードに対応するHTTPステータスを返す。未知のコードは500。
func StatusFor(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFRejected:
		return http.StatusForbidden
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidInitData:
		return http.StatusBadRequest
	case model.ErrCodeTierNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteAPIError はStatusForで決めたステータスでエラーを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusFor(apiErr), apiErr)
}

// WriteErrorResponse は指定ステータスでエラーを書き込む。
// 認証まわりの応答を中間キャッシュに残さないためno-storeを付ける。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody(*apiErr))
}

// WriteInternalServerError は500を書き込む。詳細は呼び出し側でログに残すこと。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
