// Package api 處理 HTTP 請求路由和處理。
//
// REST 路由負責註冊、登入、個人資料與訊息歷史；/ws 是即時訊息的 WebSocket 入口。
// handlers 只做請求解析與狀態碼轉換，業務邏輯都在 service 包中。
package api
