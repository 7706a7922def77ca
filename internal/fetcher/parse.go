package fetcher

import (
	"encoding/json"
	"time"

	"github.com/tedstreete/six-degrees/internal/digest"
	"github.com/tedstreete/six-degrees/internal/slab"
)

// Wire shapes of the MediaWiki parse API. A response is either a parse
// payload or an error frame; which one decides the outcome.

type wikiLink struct {
	NS     int     `json:"ns"`
	Exists *string `json:"exists"`
	Title  string  `json:"*"`
}

type wikiParse struct {
	Title  string     `json:"title"`
	PageID int64      `json:"pageid"`
	Links  []wikiLink `json:"links"`
}

type wikiError struct {
	Code string  `json:"code"`
	Info string  `json:"info"`
	Lag  float64 `json:"lag"`
}

type wikiPayload struct {
	Parse *wikiParse `json:"parse"`
	Error *wikiError `json:"error"`
}

// Parse interprets an upstream body. Success yields a resolved entry whose
// outbound set is the ns==0 links in document order. MaxLag and missing
// title frames come back as classified errors; anything else is a parse
// error preserving the raw body.
func Parse(body []byte) (*slab.Entry, error) {
	var payload wikiPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Error{Kind: KindParse, Body: string(body), Err: err}
	}

	switch {
	case payload.Parse != nil && payload.Parse.Title != "":
		return entryFrom(payload.Parse), nil

	case payload.Error != nil && payload.Error.Code == "maxlag":
		return nil, &Error{Kind: KindLag, Lag: payload.Error.Lag}

	case payload.Error != nil && payload.Error.Code == "missingtitle":
		return nil, &Error{Kind: KindMissingTitle}
	}

	return nil, &Error{Kind: KindParse, Body: string(body)}
}

func entryFrom(parsed *wikiParse) *slab.Entry {
	outbound := make([]string, 0, len(parsed.Links))
	for _, link := range parsed.Links {
		if link.NS == 0 {
			outbound = append(outbound, link.Title)
		}
	}

	return &slab.Entry{
		Digest:     digest.Sum(parsed.Title),
		Title:      parsed.Title,
		Outbound:   outbound,
		Status:     slab.Resolved,
		ResolvedAt: time.Now().UTC(),
	}
}
