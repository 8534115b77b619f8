// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

// Request bodies. Field constraints are reflected into JSON Schemas and
// enforced before a handler runs; domain rules (address syntax, username
// shape) are checked again by the account service.

type checkUsernameRequest struct {
	Username string `json:"username" jsonschema:"required,minLength=1,maxLength=64"`
}

type emailRequest struct {
	Email string `json:"email" jsonschema:"required,minLength=1,maxLength=254"`
}

type signupRequest struct {
	Email           string `json:"email" jsonschema:"required,minLength=1,maxLength=254"`
	Username        string `json:"username,omitempty" jsonschema:"maxLength=64"`
	Password        string `json:"password" jsonschema:"required,minLength=1,maxLength=1024"`
	ConfirmPassword string `json:"confirm_password" jsonschema:"required,minLength=1,maxLength=1024"`
	FirstName       string `json:"first_name" jsonschema:"required,minLength=1,maxLength=100"`
	LastName        string `json:"last_name" jsonschema:"required,minLength=1,maxLength=100"`
}

type loginRequest struct {
	Identifier string `json:"identifier" jsonschema:"required,minLength=1,maxLength=254"`
	Password   string `json:"password" jsonschema:"required,minLength=1,maxLength=1024"`
}

type tokenRequest struct {
	Token string `json:"token" jsonschema:"required,minLength=1,maxLength=256"`
}

type resetPasswordRequest struct {
	Token           string `json:"token" jsonschema:"required,minLength=1,maxLength=256"`
	Password        string `json:"password" jsonschema:"required,minLength=1,maxLength=1024"`
	ConfirmPassword string `json:"confirm_password" jsonschema:"required,minLength=1,maxLength=1024"`
}

type changePasswordRequest struct {
	Password        string `json:"password" jsonschema:"required,minLength=1,maxLength=1024"`
	ConfirmPassword string `json:"confirm_password" jsonschema:"required,minLength=1,maxLength=1024"`
}

type updateProfileRequest struct {
	FirstName string `json:"first_name" jsonschema:"required,minLength=1,maxLength=100"`
	LastName  string `json:"last_name" jsonschema:"required,minLength=1,maxLength=100"`
}
