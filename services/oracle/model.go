package oracle

// VideoStatistics is the per-video counter set returned by the platform.
type VideoStatistics struct {
	ViewCount    int64 `json:"view_count"`
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
}

// VideoStatus carries the moderation-relevant metadata of a video.
type VideoStatus struct {
	PrivacyStatus string `json:"privacy_status"`
	Title         string `json:"title"`
	ThumbnailURL  string `json:"thumbnail_url"`
}

// youtubeListResponse mirrors the subset of the Data API v3 videos.list
// payload the client reads.
type youtubeListResponse struct {
	Items []youtubeVideoItem `json:"items"`
}

type youtubeVideoItem struct {
	ID         string `json:"id"`
	Statistics *struct {
		ViewCount    string `json:"viewCount"`
		LikeCount    string `json:"likeCount"`
		CommentCount string `json:"commentCount"`
	} `json:"statistics,omitempty"`
	Status *struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status,omitempty"`
	Snippet *struct {
		Title      string `json:"title"`
		Thumbnails struct {
			Medium struct {
				URL string `json:"url"`
			} `json:"medium"`
		} `json:"thumbnails"`
	} `json:"snippet,omitempty"`
}
