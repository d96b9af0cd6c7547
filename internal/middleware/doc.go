// Package middleware 提供了 HTTP 請求處理的中間件。
//
// 包含以 Bearer token 驗證身分的 AuthMiddleware，以及用 zap 記錄每個請求的 RequestLogger。
package middleware
