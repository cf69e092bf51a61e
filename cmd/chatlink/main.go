package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/thereayou/chatlink/internal/api"
	"github.com/thereayou/chatlink/internal/chat"
	"github.com/thereayou/chatlink/internal/config"
	"github.com/thereayou/chatlink/internal/httpapi"
	"github.com/thereayou/chatlink/internal/models"
	"github.com/thereayou/chatlink/internal/session"
	"github.com/thereayou/chatlink/internal/transport"
	"github.com/thereayou/chatlink/pkg/auth"
)

// tokenHolder отдаёт актуальный токен REST-клиенту; до входа пустой
type tokenHolder struct {
	mu    sync.RWMutex
	token string
}

func (t *tokenHolder) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

func (t *tokenHolder) set(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg := config.Load()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid REDIS_URL", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}
	store := session.NewStore(rdb)

	tokens := &tokenHolder{}
	rest := api.NewClient(cfg.APIURL, tokens, logger)

	sess, err := restoreSession(context.Background(), store, rest, cfg, logger)
	if err != nil {
		logger.Fatal("sign in failed", zap.Error(err))
	}
	tokens.set(sess.Token)

	conn := transport.New(cfg.WSURL, logger)
	conn.OnClose(func(err error) {
		logger.Warn("push transport closed", zap.Error(err))
	})

	core := chat.NewClient(sess.User, sess.Token, rest, conn, logger)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := core.Start(startCtx); err != nil {
		logger.Fatal("chat client start failed", zap.Error(err))
	}

	handler := httpapi.NewHandler(core, rest, store, logger)
	router := httpapi.NewRouter(handler)
	go func() {
		if err := router.Run(":" + cfg.ListenPort); err != nil {
			logger.Fatal("control api failed", zap.Error(err))
		}
	}()
	logger.Info("control api listening", zap.String("port", cfg.ListenPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	core.Stop()
}

// restoreSession поднимает сессию из хранилища; если её нет или токен
// истёк — входит заново по учётным данным из окружения
func restoreSession(ctx context.Context, store *session.Store, rest *api.Client,
	cfg *config.Config, logger *zap.Logger) (*session.Session, error) {

	sess, err := store.Load(ctx)
	switch {
	case err == nil:
		if expErr := auth.CheckNotExpired(sess.Token, time.Now()); expErr == nil {
			logger.Info("session restored", zap.String("username", sess.User.Username))
			return sess, nil
		}
		logger.Info("saved token expired, signing in again")
		if err := store.Clear(ctx); err != nil {
			logger.Warn("session clear failed", zap.Error(err))
		}
	case errors.Is(err, session.ErrNoSession):
		// Первый запуск
	default:
		return nil, err
	}

	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("no saved session and no CHAT_USERNAME/CHAT_PASSWORD provided")
	}

	resp, err := rest.SignIn(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}

	sess = &session.Session{
		Token: resp.AccessToken,
		User: models.User{
			ID:       resp.ID,
			Username: resp.Username,
			Email:    resp.Email,
		},
	}
	if err := store.Save(ctx, sess); err != nil {
		logger.Warn("session save failed", zap.Error(err))
	}
	logger.Info("signed in", zap.String("username", sess.User.Username))
	return sess, nil
}
