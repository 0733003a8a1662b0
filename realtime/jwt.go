package realtime

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

type ByJwt struct {
	UserId   Id
	Username string
	Email    string
}

// the token is verified server side on every call.
// client side we only need the claims to know who the session belongs to.
func ParseByJwtUnverified(byJwtStr string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(byJwtStr, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	if userIdStr, ok := claims["user_id"]; ok {
		if userId, err := ParseId(userIdStr.(string)); err == nil {
			byJwt.UserId = userId
		}
	}
	if username, ok := claims["username"]; ok {
		byJwt.Username = username.(string)
	}
	if email, ok := claims["email"]; ok {
		byJwt.Email = email.(string)
	}

	return byJwt, nil
}

func (self *ByJwt) Session() *Session {
	return &Session{
		UserId:   self.UserId,
		Username: self.Username,
		Email:    self.Email,
	}
}
