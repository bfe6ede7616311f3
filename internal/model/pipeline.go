// Package model defines the records that flow through the discovery, crawl
// and extraction pipeline.
package model

import (
	"encoding/json"
	"time"
)

// DiscoveryRun tracks one user-initiated discovery request end to end.
type DiscoveryRun struct {
	ID            string          `json:"id"`
	DatasetID     string          `json:"dataset_id"`
	UserID        string          `json:"user_id"`
	Status        RunStatus       `json:"status"`
	Request       json.RawMessage `json:"request,omitempty"`
	Stats         json.RawMessage `json:"stats,omitempty"`
	CostEstimates json.RawMessage `json:"cost_estimates,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Dataset groups businesses discovered for a (user, location, industry) tuple.
type Dataset struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	LocationID string    `json:"location_id"`
	Industry   string    `json:"industry"`
	CreatedAt  time.Time `json:"created_at"`
}

// Business is the canonical deduplicated record of one real-world business.
// ExternalID is unique across all discovery sources.
type Business struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"external_id"`
	Source         string    `json:"source"`
	Name           string    `json:"name"`
	Address        string    `json:"address,omitempty"`
	PostalCode     string    `json:"postal_code,omitempty"`
	LocationID     string    `json:"location_id"`
	Industry       string    `json:"industry,omitempty"`
	Website        string    `json:"website,omitempty"`
	Domain         string    `json:"domain,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Email          string    `json:"email,omitempty"`
	PlaceID        string    `json:"place_id,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	DatasetID      string    `json:"dataset_id,omitempty"`
	DiscoveryRunID string    `json:"discovery_run_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultPagesLimit bounds how many pages one crawl job may fetch.
const DefaultPagesLimit = 25

// CrawlJob is one unit of work fetching a bounded page set from a website.
type CrawlJob struct {
	ID           string      `json:"id"`
	BusinessID   string      `json:"business_id"`
	WebsiteURL   string      `json:"website_url"`
	Status       CrawlStatus `json:"status"`
	PagesCrawled int         `json:"pages_crawled"`
	PagesLimit   int         `json:"pages_limit"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// CrawlPage is a fetched page snapshot, write-once per (job, URL).
type CrawlPage struct {
	ID          string    `json:"id"`
	CrawlJobID  string    `json:"crawl_job_id"`
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url"`
	ContentHash string    `json:"content_hash"`
	HTML        string    `json:"html"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// ExtractionJob derives contacts for one business. Unique per business.
type ExtractionJob struct {
	ID           string           `json:"id"`
	BusinessID   string           `json:"business_id"`
	Status       ExtractionStatus `json:"status"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// ContactType discriminates contact values.
type ContactType string

const (
	ContactEmail ContactType = "email"
	ContactPhone ContactType = "phone"
)

// Contact is a normalized email or phone, deduplicated globally by value.
type Contact struct {
	ID        string      `json:"id"`
	Type      ContactType `json:"type"`
	Value     string      `json:"value"`
	IsGeneric bool        `json:"is_generic"`
}

// PageType classifies the page a contact was found on.
type PageType string

const (
	PageTypeHomepage PageType = "homepage"
	PageTypeContact  PageType = "contact"
	PageTypeAbout    PageType = "about"
	PageTypeCompany  PageType = "company"
	PageTypeFooter   PageType = "footer"
)

// ContactSource links a contact to a business with its provenance.
type ContactSource struct {
	ContactID   string   `json:"contact_id"`
	BusinessID  string   `json:"business_id"`
	SourceURL   string   `json:"source_url"`
	PageType    PageType `json:"page_type"`
	ContentHash string   `json:"content_hash"`
}

// SocialLink is a canonical profile URL on a known platform.
type SocialLink struct {
	BusinessID string `json:"business_id"`
	Platform   string `json:"platform"`
	URL        string `json:"url"`
}
