package models

import (
	"errors"
	"fmt"
)

var (
	ErrMissingUserID    = errors.New("userId cannot be empty")
	ErrMissingEventName = errors.New("name cannot be empty")
	ErrMissingPayload   = errors.New("call payload is missing")
)

// IdentifyRequest is the body of POST /identify.
type IdentifyRequest struct {
	UserID  string     `json:"userId"`
	Traits  Properties `json:"traits"`
	Options Options    `json:"options"`
}

// PageRequest is the body of POST /page. Title and URL describe the page
// the call was made from and feed the page view defaults.
type PageRequest struct {
	Name       string     `json:"name"`
	Properties Properties `json:"properties"`
	Options    Options    `json:"options"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
}

// TrackRequest is the body of POST /track.
type TrackRequest struct {
	Name       string     `json:"name"`
	Properties Properties `json:"properties"`
	Options    Options    `json:"options"`
}

// Call is one entry of a batch. Type is identify|page|track and selects
// which of the payload fields is read.
type Call struct {
	Type     string           `json:"type"`
	Identify *IdentifyRequest `json:"identify,omitempty"`
	Page     *PageRequest     `json:"page,omitempty"`
	Track    *TrackRequest    `json:"track,omitempty"`
}

type Batch struct {
	Calls []Call `json:"calls"`
}

func (r IdentifyRequest) Validate() error {
	if r.UserID == "" {
		return ErrMissingUserID
	}
	return nil
}

func (r TrackRequest) Validate() error {
	if r.Name == "" {
		return ErrMissingEventName
	}
	return nil
}

// Validate checks that the payload matching Type is present and valid.
// Page requests have no required fields.
func (c Call) Validate() error {
	switch c.Type {
	case "identify":
		if c.Identify == nil {
			return ErrMissingPayload
		}
		return c.Identify.Validate()
	case "page":
		if c.Page == nil {
			return ErrMissingPayload
		}
		return nil
	case "track":
		if c.Track == nil {
			return ErrMissingPayload
		}
		return c.Track.Validate()
	}
	return fmt.Errorf("invalid call type: %s", c.Type)
}
