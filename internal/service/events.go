package service

import "encoding/json"

// 客戶端送往伺服器的事件
const (
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventSeen        = "seen"
)

// 伺服器送往客戶端的事件
const (
	EventReceiveMessage = "receive_message"
	EventUserCreated    = "user_created"
	EventUserUpdated    = "user_updated"
	EventError          = "error"
)

// Frame 是 WebSocket 上傳輸的單一事件，雙向共用
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessageInput send_message 事件的內容
type SendMessageInput struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// ErrorPayload error 事件的內容
type ErrorPayload struct {
	Message string `json:"message"`
}

// encodeFrame 將事件名稱與已編碼的內容組成一個訊框
func encodeFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

// encodePayload 先把內容編成 JSON，方便同一份資料送往本機與其他節點
func encodePayload(event string, payload interface{}) (json.RawMessage, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		return nil, nil, err
	}
	return data, frame, nil
}
