package model

// LookupStatus はToken Storeの参照結果の種別。
type LookupStatus int

const (
	// LookupEmpty は対象が存在しない、期限切れ、消費済みのいずれか。
	LookupEmpty LookupStatus = iota
	// LookupFound は対象が見つかった。
	LookupFound
	// LookupFailed はインフラ障害で判定できなかった。
	LookupFailed
)

// String はメトリクスやログのラベルとして使う名前を返す。
func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupFailed:
		return "error"
	default:
		return "empty"
	}
}

// Lookup は「見つからない」と「障害」を区別して保持する参照結果。
// 外部の呼び出し元はOk()の真偽だけを見ればよい。
type Lookup[T any] struct {
	Value  T
	Status LookupStatus
	Reason string // Empty の理由（expired, consumed, stamp_mismatch など）
	Err    error
}

// Found は見つかった結果を返す。
func Found[T any](v T) Lookup[T] {
	return Lookup[T]{Value: v, Status: LookupFound}
}

// Empty は対象なしの結果を返す。
func Empty[T any](reason string) Lookup[T] {
	return Lookup[T]{Status: LookupEmpty, Reason: reason}
}

// Failed は障害の結果を返す。
func Failed[T any](err error) Lookup[T] {
	return Lookup[T]{Status: LookupFailed, Reason: "error", Err: err}
}

// Ok は値が得られたかを返す。
func (l Lookup[T]) Ok() bool {
	return l.Status == LookupFound
}
