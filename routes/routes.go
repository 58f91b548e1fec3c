package routes

import (
	"net/http"
	"time"

	"blogsy/config"
	"blogsy/handlers"
	"blogsy/middleware"
	"blogsy/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	Config    *config.Config
	Logger    *zap.Logger
	Tokens    *middleware.TokenManager
	WebSocket *websocket.Manager
	// Stop ends the rate limiter sweepers.
	Stop <-chan struct{}
}

func SetupRouter(opts Options) *gin.Engine {
	cfg, log := opts.Config, opts.Logger

	router := gin.New()

	globalLimiter := middleware.NewIPRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	authLimiter := middleware.NewIPRateLimiter(cfg.AuthRateLimit, cfg.RateLimitWindow)
	aiLimiter := middleware.NewIPRateLimiter(cfg.AIRateLimit, time.Minute)
	if opts.Stop != nil {
		globalLimiter.StartSweeper(opts.Stop)
		authLimiter.StartSweeper(opts.Stop)
		aiLimiter.StartSweeper(opts.Stop)
	}

	router.Use(
		handlers.ErrorHandler(log),
		middleware.RequestLogger(log),
		middleware.SecureHeaders(),
		cors.New(corsConfig(cfg.CORSOrigins)),
		middleware.RateLimitMiddleware(globalLimiter),
		middleware.Sanitize(),
	)

	health := func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"message": "BlogSy API is running",
			"time":    time.Now().Unix(),
		}
		if opts.WebSocket != nil {
			body["connectedClients"] = opts.WebSocket.GetConnectedUsers()
		}
		c.JSON(http.StatusOK, body)
	}
	router.GET("/", health)
	router.GET("/api/health", health)

	router.Static("/uploads", cfg.UploadDir)

	auth := middleware.JWTAuthMiddleware(opts.Tokens)
	optional := middleware.OptionalAuth(opts.Tokens)

	// Auth
	authGroup := router.Group("/api/auth", middleware.RateLimitMiddleware(authLimiter))
	authGroup.POST("/register", handlers.Register)
	authGroup.POST("/login", handlers.Login)
	authGroup.POST("/refresh", handlers.RefreshToken)
	authGroup.POST("/logout", handlers.Logout)
	authGroup.GET("/me", auth, handlers.GetMe)
	authGroup.GET("/verify-email/:token", handlers.VerifyEmail)
	authGroup.POST("/resend-verification", auth, handlers.ResendVerification)
	authGroup.POST("/forgot-password", handlers.ForgotPassword)
	authGroup.POST("/reset-password/:token", handlers.ResetPassword)
	authGroup.PUT("/change-password", auth, handlers.ChangePassword)
	authGroup.GET("/google/url", handlers.GetGoogleAuthURL)
	authGroup.GET("/google/callback", handlers.GoogleOAuthCallback)
	authGroup.POST("/google", handlers.GoogleAuthWithCredential)

	// Blogs
	blogs := router.Group("/api/blogs")
	blogs.GET("", optional, handlers.GetBlogs)
	blogs.POST("", auth, handlers.CreateBlog)
	blogs.GET("/:id", optional, handlers.GetBlog)
	blogs.PUT("/:id", auth, handlers.UpdateBlog)
	blogs.DELETE("/:id", auth, handlers.DeleteBlog)
	blogs.POST("/:id/like", auth, handlers.LikeBlog)
	blogs.POST("/:id/share", handlers.ShareBlog)

	// Comments
	blogs.POST("/:id/comments", auth, handlers.AddComment)
	blogs.DELETE("/:id/comments/:commentId", auth, handlers.DeleteComment)
	blogs.POST("/:id/comments/:commentId/replies", auth, handlers.AddReply)
	blogs.DELETE("/:id/comments/:commentId/replies/:replyId", auth, handlers.DeleteReply)
	blogs.POST("/:id/comments/:commentId/reactions", auth, handlers.ReactToComment)

	// Users
	users := router.Group("/api/users")
	users.GET("/me/blogs", auth, handlers.GetMyBlogs)
	users.PUT("/profile", auth, handlers.UpdateProfile)
	users.GET("/favourites", auth, handlers.GetFavourites)
	users.POST("/favourites/:blogId", auth, handlers.AddFavourite)
	users.DELETE("/favourites/:blogId", auth, handlers.RemoveFavourite)
	users.GET("/:id", optional, handlers.GetUserProfile)
	users.GET("/:id/blogs", optional, handlers.GetUserBlogs)
	users.GET("/:id/followers", handlers.GetFollowers)
	users.GET("/:id/following", handlers.GetFollowing)
	users.POST("/:id/follow", auth, handlers.FollowUser)
	users.DELETE("/:id/follow", auth, handlers.UnfollowUser)

	// Uploads
	router.POST("/api/upload", auth, handlers.UploadImage)

	// AI
	router.POST("/api/ai/generate", middleware.RateLimitMiddleware(aiLimiter), auth, handlers.GenerateAI)

	// Notifications
	notifications := router.Group("/api/notifications")
	notifications.GET("/vapid-public-key", handlers.GetVapidPublicKey)
	notifications.POST("/subscribe", auth, handlers.SubscribePush)
	notifications.DELETE("/subscribe", auth, handlers.UnsubscribePush)

	// WebSocket
	if opts.WebSocket != nil {
		router.GET("/ws", gin.WrapF(opts.WebSocket.Handler(func(token string) (string, error) {
			claims, err := opts.Tokens.ParseAccess(token)
			if err != nil {
				return "", err
			}
			return claims.UserID, nil
		})))
	}

	router.NoRoute(handlers.NotFound)

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			// credentials cannot be combined with a literal wildcard, so echo the caller's origin
			c.AllowOriginFunc = func(string) bool { return true }
			return c
		}
	}
	c.AllowOrigins = origins
	if len(origins) == 0 {
		c.AllowOriginFunc = func(string) bool { return false }
	}
	return c
}
