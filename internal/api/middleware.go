package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"alert-service/internal/logging"
)

const apiKeyContextKey = "apiKey"

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// SignatureValidator checks an SMS provider webhook signature.
type SignatureValidator interface {
	Validate(url string, params map[string]string, signature string) bool
}

// TwilioSignatureMiddleware rejects SMS webhooks whose X-Twilio-Signature
// does not match the public URL and form body.
func TwilioSignatureMiddleware(validator SignatureValidator, publicURL string, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			logger.Errorf("Failed to parse form on %s: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusBadRequest, "Bad Request")
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for key := range c.Request.PostForm {
			params[key] = c.Request.PostForm.Get(key)
		}
		url := publicURL + c.Request.URL.RequestURI()
		if !validator.Validate(url, params, c.GetHeader("X-Twilio-Signature")) {
			logger.Errorf("Error on %s: Sender %s is not Twilio", c.Request.URL.Path, params["From"])
			c.AbortWithStatusJSON(http.StatusUnauthorized, "Sender "+params["From"]+" is not Twilio")
			return
		}
		c.Next()
	}
}

// HeaderKeyMiddleware requires header to equal key.
func HeaderKeyMiddleware(header, key string, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.GetHeader(header) != key {
			logger.Errorf("Unauthorized request to %s", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// APIKeyMiddleware authorizes read API requests with a scoped key from the
// Authorization header and applies the key's rate limit.
func APIKeyMiddleware(keys *KeyRing, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := keys.Lookup(c.GetHeader("Authorization"))
		if !ok {
			logger.Errorf("Unauthorized request to %s", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Unauthorized"})
			return
		}
		if !keys.Allow(key.Key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"status": "error", "code": "rate_limited", "message": "Rate limit exceeded"})
			return
		}
		c.Set(apiKeyContextKey, key)
		c.Next()
	}
}

func requestKey(c *gin.Context) APIKey {
	key, _ := c.MustGet(apiKeyContextKey).(APIKey)
	return key
}
