package remote

import "github.com/MrSnakeDoc/bookmirror/internal/domain"

// Wire shapes of the X API v2 responses. Only the fields we read are declared.

type tweetsResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Users []user  `json:"users"`
		Media []media `json:"media"`
	} `json:"includes"`
	Meta meta `json:"meta"`
}

type tweet struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	AuthorID      string         `json:"author_id"`
	CreatedAt     string         `json:"created_at"`
	PublicMetrics *publicMetrics `json:"public_metrics"`
	Attachments   *struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type publicMetrics struct {
	LikeCount    int64 `json:"like_count"`
	RetweetCount int64 `json:"retweet_count"`
	ReplyCount   int64 `json:"reply_count"`
	QuoteCount   int64 `json:"quote_count"`
}

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type media struct {
	MediaKey        string `json:"media_key"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
}

type meta struct {
	NextToken   string `json:"next_token"`
	ResultCount int    `json:"result_count"`
}

type foldersResponse struct {
	Data []domain.Folder `json:"data"`
	Meta meta            `json:"meta"`
}

type meResponse struct {
	Data user `json:"data"`
}

// items joins tweets with their expanded authors and media, keeping the
// remote order.
func (r *tweetsResponse) items() []domain.RemoteItem {
	users := make(map[string]user, len(r.Includes.Users))
	for _, u := range r.Includes.Users {
		users[u.ID] = u
	}
	mediaByKey := make(map[string]media, len(r.Includes.Media))
	for _, m := range r.Includes.Media {
		mediaByKey[m.MediaKey] = m
	}

	items := make([]domain.RemoteItem, 0, len(r.Data))
	for _, t := range r.Data {
		it := domain.RemoteItem{
			ID:           t.ID,
			Text:         t.Text,
			AuthorID:     t.AuthorID,
			CreatedAtRaw: t.CreatedAt,
		}
		if u, ok := users[t.AuthorID]; ok {
			it.AuthorUsername = u.Username
			it.AuthorName = u.Name
		}
		if t.PublicMetrics != nil {
			it.Metrics = &domain.Metrics{
				Likes:   t.PublicMetrics.LikeCount,
				Reposts: t.PublicMetrics.RetweetCount,
				Replies: t.PublicMetrics.ReplyCount,
				Quotes:  t.PublicMetrics.QuoteCount,
			}
		}
		if t.Attachments != nil {
			for _, key := range t.Attachments.MediaKeys {
				m, ok := mediaByKey[key]
				if !ok {
					continue
				}
				// photos carry url, videos and gifs only a preview
				switch {
				case m.URL != "":
					it.MediaURLs = append(it.MediaURLs, m.URL)
				case m.PreviewImageURL != "":
					it.MediaURLs = append(it.MediaURLs, m.PreviewImageURL)
				}
			}
		}
		items = append(items, it)
	}
	return items
}
