package bluesky

import (
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultService = "https://bsky.social"

	collectionPost = "app.bsky.feed.post"
	typeLinkFacet  = "app.bsky.richtext.facet#link"
	typeExternal   = "app.bsky.embed.external"
)

type Config struct {
	Service    string
	Identifier string
	Password   string
	// Timeout bounds a single HTTP exchange when the caller's context has no deadline.
	Timeout time.Duration
}

// Link marks Text[Start:End] (UTF-8 bytes) as a hyperlink.
type Link struct {
	Start int
	End   int
	URI   string
}

type External struct {
	URI         string
	Title       string
	Description string
}

// Post is the plain input for CreatePost.
type Post struct {
	Text      string
	Links     []Link
	External  *External
	CreatedAt time.Time
	Langs     []string
}

// RecordRef identifies a created record.
type RecordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// APIError is a non-2xx XRPC response.
type APIError struct {
	Status  int
	Code    string // XRPC "error" field
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("xrpc: http %d", e.Status)
	}
	if e.Message == "" {
		return fmt.Sprintf("xrpc: http %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("xrpc: http %d %s: %s", e.Status, e.Code, e.Message)
}

// IsAuth reports whether the session is missing, invalid or expired.
func (e *APIError) IsAuth() bool {
	if e.Status == http.StatusUnauthorized {
		return true
	}
	switch e.Code {
	case "AuthenticationRequired", "ExpiredToken", "InvalidToken", "AuthFactorTokenRequired":
		return true
	}
	return false
}

func (e *APIError) IsRateLimit() bool { return e.Status == http.StatusTooManyRequests }

// ---- wire ----

type session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
}

type createSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createRecordInput struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

type postRecord struct {
	Type      string         `json:"$type"`
	Text      string         `json:"text"`
	CreatedAt string         `json:"createdAt"`
	Langs     []string       `json:"langs,omitempty"`
	Entities  []entity       `json:"entities,omitempty"`
	Facets    []facet        `json:"facets,omitempty"`
	Embed     *externalEmbed `json:"embed,omitempty"`
}

// entity is the legacy link annotation kept alongside facets.
type entity struct {
	Index textSlice `json:"index"`
	Type  string    `json:"type"`
	Value string    `json:"value"`
}

type textSlice struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type facet struct {
	Index    byteSlice      `json:"index"`
	Features []facetFeature `json:"features"`
}

type byteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
}

type externalEmbed struct {
	Type     string       `json:"$type"`
	External externalCard `json:"external"`
}

type externalCard struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
