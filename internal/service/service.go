package service

import (
	"go.uber.org/zap"

	"chat_web/internal/repository"
	"chat_web/internal/utils"
)

// Options 由 main 組裝後傳入，所有共用元件都明確建構
type Options struct {
	Tokens         *utils.TokenManager
	Registry       *Registry
	Tracker        OnlineTracker // nil 時使用本機 Registry
	Router         RouterConfig
	WebSocket      WebSocketConfig
	DefaultPicture string
	Logger         *zap.Logger
}

type Services struct {
	User     *UserService
	Message  *MessageService
	Identity *IdentityVerifier
	Presence *PresenceBroadcaster
	Router   *Router
	Gateway  *Gateway
	Registry *Registry
	Online   OnlineTracker
}

func NewServices(repos *repository.Repositories, opts Options) *Services {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewLocalTracker(opts.Registry)
	}

	identity := NewIdentityVerifier(opts.Tokens)
	presence := NewPresenceBroadcaster(opts.Registry, log)
	router := NewRouter(opts.Registry, repos.Message, opts.Router, log)

	return &Services{
		User:     NewUserService(repos.User, opts.Tokens, presence, opts.DefaultPicture, log),
		Message:  NewMessageService(repos.Message),
		Identity: identity,
		Presence: presence,
		Router:   router,
		Gateway:  NewGateway(identity, opts.Registry, router, tracker, opts.WebSocket, log),
		Registry: opts.Registry,
		Online:   tracker,
	}
}
