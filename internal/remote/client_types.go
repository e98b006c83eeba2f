package remote

// Wire DTOs for the document store REST API.

type pageDTO struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Title     string      `json:"title"`
	Space     *spaceDTO   `json:"space,omitempty"`
	Version   *versionDTO `json:"version,omitempty"`
	Ancestors []pageDTO   `json:"ancestors,omitempty"`
	Body      *bodyDTO    `json:"body,omitempty"`
}

type spaceDTO struct {
	Key string `json:"key"`
}

type versionDTO struct {
	Number int64 `json:"number"`
}

type bodyDTO struct {
	Storage storageDTO `json:"storage"`
}

type storageDTO struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

type pageListDTO struct {
	Results []pageDTO `json:"results"`
	Start   int       `json:"start"`
	Limit   int       `json:"limit"`
	Size    int       `json:"size"`
}

type attachmentListDTO struct {
	Results []attachmentDTO `json:"results"`
	Start   int             `json:"start"`
	Limit   int             `json:"limit"`
	Size    int             `json:"size"`
}

type attachmentDTO struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Version    versionDTO    `json:"version"`
	Extensions extensionsDTO `json:"extensions"`
	Links      linksDTO      `json:"_links"`
}

type extensionsDTO struct {
	MediaType string `json:"mediaType"`
	FileSize  int64  `json:"fileSize"`
	Comment   string `json:"comment"`
}

type linksDTO struct {
	Download string `json:"download"`
}

type updatePageDTO struct {
	ID      string     `json:"id"`
	Type    string     `json:"type"`
	Title   string     `json:"title"`
	Version versionDTO `json:"version"`
	Body    bodyDTO    `json:"body"`
}

type createPageDTO struct {
	Type      string      `json:"type"`
	Title     string      `json:"title"`
	Space     spaceDTO    `json:"space"`
	Ancestors []idOnlyDTO `json:"ancestors,omitempty"`
	Body      bodyDTO     `json:"body"`
}

type idOnlyDTO struct {
	ID string `json:"id"`
}
