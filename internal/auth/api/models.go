package authapi

// Wire shapes are fixed: the web/mobile clients bind to these exact field
// names, including "_id" and "imgUrl".

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ImgURL   string `json:"imgUrl"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleRequest struct {
	Credential string `json:"credential"`
}

type editRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type identityResponse struct {
	Email        string  `json:"email"`
	ID           string  `json:"_id"`
	ImgURL       *string `json:"imgUrl"`
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
}

type tokensResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type profileResponse struct {
	ID     string  `json:"_id"`
	Email  string  `json:"email"`
	ImgURL *string `json:"imgUrl"`
}
