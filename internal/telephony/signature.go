package telephony

import (
	"net/http"
	"strings"

	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
)

const headerTwilioSignature = "X-Twilio-Signature"

// RequireTwilioSignature rejects webhooks whose X-Twilio-Signature does not
// match the request. baseURL must be the public URL Twilio was configured
// with, since proxies rewrite the Host the process sees.
func RequireTwilioSignature(authToken, baseURL string) gin.HandlerFunc {
	validator := client.NewRequestValidator(authToken)
	baseURL = strings.TrimRight(baseURL, "/")

	return func(c *gin.Context) {
		sig := c.GetHeader(headerTwilioSignature)
		if sig == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		url := baseURL + c.Request.URL.RequestURI()
		if !validator.Validate(url, params, sig) {
			logger.FromGin(c).Warn("twilio signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
