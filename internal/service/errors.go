package service

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential 連線時沒有提供任何 token
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential token 簽章錯誤或已過期
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrMalformedCredential token 合法但缺少 sub
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrProtocol 事件格式錯誤，只記錄不回應
	ErrProtocol = errors.New("protocol error")
	// ErrClientClosed 連線已關閉
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull 連線的發送佇列已滿
	ErrSendBufferFull = errors.New("send buffer full")
)

// ValidationError 輸入不合法，訊息會原樣回給發送者
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationError(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StorageError 持久化失敗，對客戶端只顯示 Op 描述
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// publicMessage 轉成可以回給客戶端的錯誤訊息，不洩漏內部細節
func publicMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	var serr *StorageError
	if errors.As(err, &serr) {
		return "failed to " + serr.Op
	}
	return "internal server error"
}
