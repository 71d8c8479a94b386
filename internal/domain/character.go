// Package domain contains core domain types for the TimeTalks application.
package domain

// Character is a fixed conversational persona the user can talk to.
type Character struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Period      string `json:"period" yaml:"period"`
	Field       string `json:"field" yaml:"field"`
	Avatar      string `json:"avatar,omitempty" yaml:"avatar"`
	Theme       string `json:"theme,omitempty" yaml:"theme"`
}
