package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound は外部サービスが404を返したことを示す。
var ErrNotFound = errors.New("remote resource not found")

// maxErrorBody はエラーに保持するレスポンスボディの最大バイト数。
const maxErrorBody = 512

// Error は外部サービス呼び出しの失敗を表す。
// StatusCodeが0の場合は応答を受け取る前の失敗で、Errに原因が入る。
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	case e.Body == "":
		return fmt.Sprintf("remote %s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は404応答をErrNotFoundとして扱う。
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
