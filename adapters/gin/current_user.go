package authgin

import (
	"github.com/gin-gonic/gin"
)

// UserView is a typed view of the caller built from verified claims.
type UserView struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email,omitempty"`
	EnvironmentID string `json:"environment_id,omitempty"`

	Source string `json:"source"` // "claims" | "none"
}

// CurrentUser returns the caller behind RequireAuth, or Source "none" when
// the route is not guarded or the token carried no subject.
func CurrentUser(c *gin.Context) (UserView, bool) {
	cl, ok := CurrentClaims(c)
	if !ok {
		return UserView{Source: "none"}, false
	}
	sub, _ := cl["sub"].(string)
	if sub == "" {
		return UserView{Source: "none"}, false
	}
	email, _ := cl["email"].(string)
	env, _ := cl["environment_id"].(string)
	return UserView{
		UserID:        sub,
		Email:         email,
		EnvironmentID: env,
		Source:        "claims",
	}, true
}
