package domain

import "time"

type DocStatus string

const (
	StatusPending DocStatus = "pending"
	StatusIndexed DocStatus = "indexed"
	StatusFailed  DocStatus = "failed"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is the identity the token verifier yields for a request.
// A zero-value User is an anonymous caller.
type User struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

func (u User) IsAnonymous() bool { return u.ID == "" }

// AnonymousKey marks unauthenticated callers in cache keys.
const AnonymousKey = "anon"

type Document struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"ownerId"`
	Title            string     `json:"title"`
	OriginalFilename string     `json:"originalFilename"`
	Visibility       Visibility `json:"visibility"`
	Status           DocStatus  `json:"status"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	PageCount        int        `json:"pagesCount"`
	StorageKey       string     `json:"-"`
	StorageURL       string     `json:"storageUrl,omitempty"`
	SizeBytes        int64      `json:"sizeBytes"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// VisibleTo reports whether viewerID may read the document.
func (d Document) VisibleTo(viewerID string) bool {
	return d.Visibility == VisibilityPublic || (viewerID != "" && d.OwnerID == viewerID)
}

// Chunk is one page-like segment of a document plus its embedding.
// An empty Embedding means the segment failed to embed; such chunks are
// kept but never retrieved.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	Page       int               `json:"page"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// IndexMeta is the singleton rebuild bookkeeping record.
type IndexMeta struct {
	LastRebuild *time.Time `json:"lastRebuild"`
	LastError   string     `json:"lastError,omitempty"`
	TotalDocs   int        `json:"totalDocs"`
	TotalChunks int        `json:"totalChunks"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Source struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

type Answer struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
}
