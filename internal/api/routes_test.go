package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chat_web/internal/models"
	"chat_web/internal/repository"
	"chat_web/internal/service"
	"chat_web/internal/storage"
	"chat_web/internal/utils"
)

type testApp struct {
	server   *httptest.Server
	registry *service.Registry
	tokens   *utils.TokenManager
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	registry := service.NewRegistry("test", zap.NewNop())
	tokens := utils.NewTokenManager("secret", time.Hour)
	services := service.NewServices(repository.NewRepositories(storage.Wrap(db)), service.Options{
		Tokens:         tokens,
		Registry:       registry,
		Router:         service.RouterConfig{MaxContentLength: 2000},
		DefaultPicture: "http://localhost:3003/uploads/default-picture.jpg",
		Logger:         zap.NewNop(),
	})

	r := gin.New()
	SetupRoutes(r, services, []string{"http://localhost:3000"})
	server := httptest.NewServer(r)

	t.Cleanup(func() {
		registry.Close()
		server.Close()
		sqlDB.Close()
	})
	return &testApp{server: server, registry: registry, tokens: tokens}
}

func (a *testApp) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// registerUser 回傳 (userID, accessToken)
func (a *testApp) registerUser(t *testing.T, email string) (string, string) {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"email":           email,
		"password":        "password123",
		"confirmPassword": "password123",
		"firstName":       "Test",
		"lastName":        "User",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, body = %v", resp.StatusCode, body)
	}
	user := body["user"].(map[string]interface{})
	if _, ok := user["password"]; ok {
		t.Error("register response contains password")
	}
	return user["_id"].(string), body["accessToken"].(string)
}

func (a *testApp) dial(t *testing.T, query string, header http.Header) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func readEvent(t *testing.T, conn *websocket.Conn) service.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f service.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	app := setupTestApp(t)
	resp, body := app.do(t, http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestUserEndpoints(t *testing.T) {
	app := setupTestApp(t)
	aliceID, aliceToken := app.registerUser(t, "alice@example.com")
	app.registerUser(t, "bob@example.com")

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       interface{}
		wantStatus int
	}{
		{"duplicate register", http.MethodPost, "/api/users/register", "", map[string]string{
			"email": "alice@example.com", "password": "password123", "confirmPassword": "password123", "firstName": "A", "lastName": "B",
		}, http.StatusBadRequest},
		{"password mismatch", http.MethodPost, "/api/users/register", "", map[string]string{
			"email": "carol@example.com", "password": "password123", "confirmPassword": "password124", "firstName": "C", "lastName": "D",
		}, http.StatusBadRequest},
		{"password too short", http.MethodPost, "/api/users/register", "", map[string]string{
			"email": "dave@example.com", "password": "1234567", "confirmPassword": "1234567", "firstName": "D", "lastName": "E",
		}, http.StatusBadRequest},
		{"password of eight", http.MethodPost, "/api/users/register", "", map[string]string{
			"email": "erin@example.com", "password": "12345678", "confirmPassword": "12345678", "firstName": "E", "lastName": "F",
		}, http.StatusCreated},
		{"login ok", http.MethodPost, "/api/users/login", "", map[string]string{"email": "alice@example.com", "password": "password123"}, http.StatusOK},
		{"login bad password", http.MethodPost, "/api/users/login", "", map[string]string{"email": "alice@example.com", "password": "wrong"}, http.StatusBadRequest},
		{"list without token", http.MethodGet, "/api/users", "", nil, http.StatusUnauthorized},
		{"list with bad token", http.MethodGet, "/api/users", "garbage", nil, http.StatusUnauthorized},
		{"me", http.MethodGet, "/api/users/me", aliceToken, nil, http.StatusOK},
		{"update", http.MethodPut, "/api/users/update", aliceToken, map[string]string{"status": "away"}, http.StatusOK},
		{"online", http.MethodGet, "/api/users/online", aliceToken, nil, http.StatusOK},
		{"unknown route", http.MethodGet, "/api/nope", "", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := app.do(t, tt.method, tt.path, tt.token, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %v)", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}

	_, me := app.do(t, http.MethodGet, "/api/users/me", aliceToken, nil)
	if me["_id"] != aliceID || me["status"] != "away" {
		t.Errorf("me = %v", me)
	}
}

func TestWebSocketChatFlow(t *testing.T) {
	app := setupTestApp(t)
	aliceID, aliceToken := app.registerUser(t, "alice@example.com")
	bobID, bobToken := app.registerUser(t, "bob@example.com")

	alice, err := app.dial(t, "?token="+aliceToken, nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	bob, err := app.dial(t, "", http.Header{"Authorization": []string{"Bearer " + bobToken}})
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	waitFor(t, func() bool { return app.registry.RoomSize(aliceID) == 1 && app.registry.RoomSize(bobID) == 1 })

	send := func(conn *websocket.Conn, event string, data interface{}) {
		t.Helper()
		if err := conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
	}

	for _, content := range []string{"hi", "are you there?"} {
		send(alice, service.EventSendMessage, map[string]string{"receiverId": bobID, "content": content})
		for _, conn := range []*websocket.Conn{alice, bob} {
			f := readEvent(t, conn)
			var msg models.Message
			_ = json.Unmarshal(f.Data, &msg)
			if f.Event != service.EventReceiveMessage || msg.SenderID != aliceID || msg.Content != content || msg.Seen {
				t.Errorf("got %s %s", f.Event, f.Data)
			}
		}
	}

	send(bob, service.EventSeen, aliceID)
	for _, conn := range []*websocket.Conn{alice, bob} {
		if f := readEvent(t, conn); f.Event != service.EventSeen {
			t.Errorf("event = %s, want seen", f.Event)
		}
	}

	resp, err := http.DefaultClient.Do(func() *http.Request {
		req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/messages/"+bobID, nil)
		req.Header.Set("Authorization", "Bearer "+aliceToken)
		return req
	}())
	if err != nil {
		t.Fatalf("GET conversation error = %v", err)
	}
	defer resp.Body.Close()
	var conv []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if len(conv) != 2 || conv[0].Content != "hi" || conv[1].Content != "are you there?" {
		t.Fatalf("conversation = %+v", conv)
	}
	for _, msg := range conv {
		if !msg.Seen {
			t.Errorf("message %q seen = false, want true", msg.Content)
		}
	}

	// 更新個人資料會廣播給所有連線
	app.do(t, http.MethodPut, "/api/users/update", bobToken, map[string]string{"firstName": "Robert"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		if f := readEvent(t, conn); f.Event != service.EventUserUpdated {
			t.Errorf("event = %s, want user_updated", f.Event)
		}
	}
}

func TestWebSocketRejectsExpiredToken(t *testing.T) {
	app := setupTestApp(t)
	userID, _ := app.registerUser(t, "alice@example.com")
	expired, _ := utils.NewTokenManager("secret", -time.Minute).GenerateToken(userID, "alice@example.com")

	conn, err := app.dial(t, "?token="+expired, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	f := readEvent(t, conn)
	if f.Event != service.EventError {
		t.Errorf("event = %s, want error", f.Event)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("ReadMessage() error = %v, want close 1008", err)
	}
	if n := app.registry.RoomSize(userID); n != 0 {
		t.Errorf("RoomSize() = %d, want 0", n)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	app := setupTestApp(t)
	_, token := app.registerUser(t, "alice@example.com")

	_, err := app.dial(t, "?token="+token, http.Header{"Origin": []string{"http://evil.example"}})
	if err == nil {
		t.Error("dial with foreign origin expected error")
	}
}
