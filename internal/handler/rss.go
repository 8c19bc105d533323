package handler

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/unstabling/internal/feed"
	"github.com/hitoshi/unstabling/internal/model"
)

// rssItemLimit はRSSに含める最新投稿の件数。
const rssItemLimit = 20

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        rssGUID  `xml:"guid"`
	Description string   `xml:"description"`
	Author      string   `xml:"author,omitempty"`
	Categories  []string `xml:"category"`
	PubDate     string   `xml:"pubDate"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// FeedXMLHandler は最新のトップレベル投稿をRSS 2.0で配信する。
type FeedXMLHandler struct {
	feed    FeedServiceInterface
	baseURL string
}

// NewFeedXMLHandler はFeedXMLHandlerを生成する。baseURLは各項目のリンクに使う。
func NewFeedXMLHandler(feedSvc FeedServiceInterface, baseURL string) *FeedXMLHandler {
	return &FeedXMLHandler{feed: feedSvc, baseURL: strings.TrimRight(baseURL, "/")}
}

// ServeHTTP はRSSを書き込む。
// GET /api/ideas/feed.xml
func (h *FeedXMLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, err := h.feed.ListTopLevel(r.Context(), feed.Query{Sort: model.SortNew, PageSize: rssItemLimit})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:       "unstabling",
			Link:        h.baseURL,
			Description: "Latest ideas",
		},
	}
	for i, node := range page.Items {
		idea := node.Idea
		if i == 0 {
			doc.Channel.LastBuildDate = idea.CreatedAt.UTC().Format(time.RFC1123Z)
		}
		link := h.baseURL + "/api/ideas/" + idea.ID
		item := rssItem{
			Title:       idea.Title,
			Link:        link,
			GUID:        rssGUID{Value: idea.ID},
			Description: idea.Content,
			Author:      idea.Author.Name,
			PubDate:     idea.CreatedAt.UTC().Format(time.RFC1123Z),
		}
		if idea.Category != "" {
			item.Categories = append(item.Categories, string(idea.Category))
		}
		item.Categories = append(item.Categories, idea.Tags...)
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return
	}
	if err := xml.NewEncoder(w).Encode(doc); err != nil {
		slog.Warn("RSSの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}
