package authapi

import (
	"net/http"
	"strings"

	"plume/identity"
)

func toIdentityResponse(u identity.User, access, refresh string) identityResponse {
	return identityResponse{
		Email:        u.Email,
		ID:           u.ID,
		ImgURL:       u.ImageURL,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}

func toProfileResponse(u identity.User) profileResponse {
	return profileResponse{
		ID:     u.ID,
		Email:  u.Email,
		ImgURL: u.ImageURL,
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
