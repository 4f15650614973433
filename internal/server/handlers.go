package server

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tinyopds/tinyopds/internal/catalog"
	"github.com/tinyopds/tinyopds/internal/covercache"
	"github.com/tinyopds/tinyopds/internal/opds"
)

// writeFeed serializes feed as the OPDS Atom content type and writes it,
// substituting {$HOST} with the request's scheme+host (plus root prefix)
// in every link href first.
func (s *Server) writeFeed(w http.ResponseWriter, r *http.Request, feed *opds.Feed) {
	host := s.baseURL(r)
	for i := range feed.Links {
		feed.Links[i].Href = strings.ReplaceAll(feed.Links[i].Href, "{$HOST}", host)
	}
	for i := range feed.Entries {
		for j := range feed.Entries[i].Links {
			feed.Entries[i].Links[j].Href = strings.ReplaceAll(feed.Entries[i].Links[j].Href, "{$HOST}", host)
		}
	}
	data, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		http.Error(w, "feed serialization error", http.StatusInternalServerError)
		return
	}
	mimeType := opds.MIMENavigationFeed
	if feed.XmlnsCalibre != "" {
		mimeType = opds.MIMEAcquisitionFeed
	}
	w.Header().Set("Content-Type", mimeType+"; charset=utf-8")
	w.Write([]byte(xml.Header))
	w.Write(data)
}

func (s *Server) baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + s.cfg.RootPrefix
}

// bookEntry builds an OPDS acquisition entry for book. If the requesting
// User-Agent is known to accept FB2 natively, the primary link serves the
// source format (transcoded to .fb2.zip); otherwise an EPUB link is
// advertised, triggering on-demand conversion for FB2 sources.
func bookEntry(book catalog.Book, acceptFB2 bool) opds.Entry {
	entry := opds.Entry{
		ID:      "urn:tinyopds:book:" + book.ID,
		Title:   opds.Text{Value: book.Title},
		Updated: opds.AtomDate{Time: book.AddedDate},
	}
	if book.Annotation != "" {
		entry.Summary = &opds.Text{Value: book.Annotation}
	}
	entry.Language = book.Language
	for _, a := range book.Authors {
		entry.Authors = append(entry.Authors, opds.Author{Name: a})
	}
	if book.Sequence != "" {
		entry.CalSeries = book.Sequence
		entry.CalSeriesIndex = strconv.FormatUint(uint64(book.NumberInSequence), 10)
	}

	base := "/" + book.ID + "/" + url.PathEscape(book.Title)
	if book.BookType() == catalog.FB2 && acceptFB2 {
		entry.Links = append(entry.Links, opds.Link{
			Rel: opds.RelAcquisitionOpen, Href: base + ".fb2.zip", Type: "application/fb2+zip",
		})
	} else {
		entry.Links = append(entry.Links, opds.Link{
			Rel: opds.RelAcquisitionOpen, Href: base + ".epub", Type: opds.MIMEEPub,
		})
	}
	if book.HasCover {
		entry.Links = append(entry.Links,
			opds.Link{Rel: opds.RelCover, Href: "/cover/" + book.ID + ".jpeg", Type: "image/jpeg"},
			opds.Link{Rel: opds.RelThumbnail, Href: "/thumbnail/" + book.ID + ".jpeg", Type: "image/jpeg"},
		)
	}
	return entry
}

func navEntry(id, title, href, mimeType string) opds.Entry {
	return opds.Entry{
		ID:      "urn:tinyopds:" + id,
		Title:   opds.Text{Value: title},
		Updated: opds.AtomDate{Time: time.Now()},
		Links: []opds.Link{
			{Rel: opds.RelCatalogNavigation, Href: href, Type: mimeType},
		},
	}
}

// handleRoot serves the root navigation feed: links to authors, sequences,
// genres, and search.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	feed := opds.NewNavigationFeed("urn:tinyopds:root", "TinyOPDS Catalog")
	feed.AddLink(opds.RelSelf, "{$HOST}/", opds.MIMENavigationFeed)
	feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)
	feed.AddLink(opds.RelSearch, "{$HOST}/opensearch.xml", opds.MIMEOpenSearchDesc)

	feed.Entries = append(feed.Entries,
		navEntry("by-author", "By Authors", "{$HOST}/authorsindex", opds.MIMENavigationFeed),
		navEntry("by-sequence", "By Series", "{$HOST}/sequencesindex", opds.MIMENavigationFeed),
		navEntry("by-genre", "By Genre", "{$HOST}/genres", opds.MIMENavigationFeed),
	)

	s.writeFeed(w, r, feed)
}

// handleAuthorsIndex serves the alphabetical author index: with no prefix,
// one entry per distinct leading letter; as the prefix grows, either more
// letters (if ambiguous) or direct author links once a prefix uniquely
// narrows the set down to a manageable page.
func (s *Server) handleAuthorsIndex(w http.ResponseWriter, r *http.Request) {
	prefix := mux.Vars(r)["prefix"]
	all := s.lib.Authors()

	var matches []string
	for _, a := range all {
		if strings.HasPrefix(strings.ToLower(a), strings.ToLower(prefix)) {
			matches = append(matches, a)
		}
	}

	feed := opds.NewNavigationFeed("urn:tinyopds:authorsindex:"+prefix, "Authors")
	feed.AddLink(opds.RelSelf, r.URL.RequestURI(), opds.MIMENavigationFeed)
	feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)

	if len(matches) <= s.cfg.PageSize || len(prefix) >= 3 {
		for _, name := range matches {
			feed.Entries = append(feed.Entries, navEntry("author:"+name, name,
				"{$HOST}/author/"+url.PathEscape(name), opds.MIMEAcquisitionFeed))
		}
	} else {
		seen := make(map[rune]bool)
		for _, a := range matches {
			trimmed := strings.TrimPrefix(a, prefix)
			if trimmed == "" {
				continue
			}
			next := []rune(trimmed)[0]
			if seen[next] {
				continue
			}
			seen[next] = true
			nextPrefix := prefix + string(next)
			feed.Entries = append(feed.Entries, navEntry("authorsindex:"+nextPrefix, nextPrefix,
				"{$HOST}/authorsindex/"+url.PathEscape(nextPrefix), opds.MIMENavigationFeed))
		}
	}

	s.writeFeed(w, r, feed)
}

// handleAuthorBooks serves the acquisition feed for one author's books.
func (s *Server) handleAuthorBooks(w http.ResponseWriter, r *http.Request) {
	name, _ := url.PathUnescape(mux.Vars(r)["name"])
	books := s.lib.GetBooksByAuthor(name)

	feed := opds.NewAcquisitionFeed("urn:tinyopds:author:"+name, name)
	feed.AddLink(opds.RelSelf, r.URL.RequestURI(), opds.MIMEAcquisitionFeed)
	feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)

	acceptFB2 := acceptsFB2Natively(r.UserAgent())
	for _, bk := range paginate(books, r, s.cfg.PageSize) {
		feed.Entries = append(feed.Entries, bookEntry(bk, acceptFB2))
	}

	s.writeFeed(w, r, feed)
}

// handleSequencesIndex mirrors handleAuthorsIndex for series names.
func (s *Server) handleSequencesIndex(w http.ResponseWriter, r *http.Request) {
	prefix := mux.Vars(r)["prefix"]
	all := s.lib.Sequences()

	var matches []string
	for _, sq := range all {
		if strings.HasPrefix(strings.ToLower(sq), strings.ToLower(prefix)) {
			matches = append(matches, sq)
		}
	}

	feed := opds.NewNavigationFeed("urn:tinyopds:sequencesindex:"+prefix, "Series")
	feed.AddLink(opds.RelSelf, r.URL.RequestURI(), opds.MIMENavigationFeed)
	feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)

	for _, name := range matches {
		feed.Entries = append(feed.Entries, navEntry("sequence:"+name, name,
			"{$HOST}/sequence/"+url.PathEscape(name), opds.MIMEAcquisitionFeed))
	}

	s.writeFeed(w, r, feed)
}

// handleSequenceBooks serves the acquisition feed for one series.
func (s *Server) handleSequenceBooks(w http.ResponseWriter, r *http.Request) {
	name, _ := url.PathUnescape(mux.Vars(r)["name"])
	books := s.lib.GetBooksBySequence(name)

	feed := opds.NewAcquisitionFeed("urn:tinyopds:sequence:"+name, name)
	feed.AddLink(opds.RelSelf, r.URL.RequestURI(), opds.MIMEAcquisitionFeed)
	feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)

	acceptFB2 := acceptsFB2Natively(r.UserAgent())
	for _, bk := range paginate(books, r, s.cfg.PageSize) {
		feed.Entries = append(feed.Entries, bookEntry(bk, acceptFB2))
	}

	s.writeFeed(w, r, feed)
}

// handleGenres serves the genre taxonomy: top level lists categories, a
// category tag lists its subgenres present in the library.
func (s *Server) handleGenres(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	inUse := make(map[string]bool)
	for _, g := range s.lib.Genres() {
		inUse[g] = true
	}

	feed := opds.NewNavigationFeed("urn:tinyopds:genres:"+tag, "Genres")
	feed.AddLink(opds.RelSelf, r.URL.RequestURI(), opds.MIMENavigationFeed)
	feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)

	if tag == "" {
		for _, g := range s.taxonomy.Genres {
			hasAny := false
			for _, sg := range g.Subgenres {
				if inUse[sg.Tag] {
					hasAny = true
					break
				}
			}
			if !hasAny {
				continue
			}
			feed.Entries = append(feed.Entries, navEntry("genres:"+g.Name, g.Translation,
				"{$HOST}/genres/"+url.PathEscape(g.Name), opds.MIMENavigationFeed))
		}
		s.writeFeed(w, r, feed)
		return
	}

	for _, g := range s.taxonomy.Genres {
		if g.Name != tag {
			continue
		}
		for _, sg := range g.Subgenres {
			if !inUse[sg.Tag] {
				continue
			}
			feed.Entries = append(feed.Entries, navEntry("genre:"+sg.Tag, sg.Translation,
				"{$HOST}/genre/"+url.PathEscape(sg.Tag), opds.MIMEAcquisitionFeed))
		}
		break
	}

	s.writeFeed(w, r, feed)
}

// handleGenreBooks serves the acquisition feed for one genre tag.
func (s *Server) handleGenreBooks(w http.ResponseWriter, r *http.Request) {
	tag, _ := url.PathUnescape(mux.Vars(r)["tag"])
	books := s.lib.GetBooksByGenre(tag)

	title := tag
	if sg, ok := s.taxonomy.Tag(tag); ok {
		title = sg.Translation
	}

	feed := opds.NewAcquisitionFeed("urn:tinyopds:genre:"+tag, title)
	feed.AddLink(opds.RelSelf, r.URL.RequestURI(), opds.MIMEAcquisitionFeed)
	feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)

	acceptFB2 := acceptsFB2Natively(r.UserAgent())
	for _, bk := range paginate(books, r, s.cfg.PageSize) {
		feed.Entries = append(feed.Entries, bookEntry(bk, acceptFB2))
	}

	s.writeFeed(w, r, feed)
}

// handleSearch implements the two-phase OpenSearch contract: a bare
// searchTerm suggests author/title result partitions; a searchType-qualified
// request returns a single paged result list.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term := q.Get("searchTerm")
	searchType := q.Get("searchType")

	if searchType == "" {
		feed := opds.NewNavigationFeed("urn:tinyopds:search:"+term, "Search results for \""+term+"\"")
		feed.AddLink(opds.RelSelf, r.URL.RequestURI(), opds.MIMENavigationFeed)
		feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)

		byTitle := s.lib.GetBooksByTitle(term)
		feed.Entries = append(feed.Entries, navEntry("search:titles", "Titles ("+strconv.Itoa(len(byTitle))+")",
			"{$HOST}/search?searchType=titles&searchTerm="+url.QueryEscape(term)+"&pageNumber=0", opds.MIMEAcquisitionFeed))

		authors := s.lib.GetAuthorsByName(term, true)
		feed.Entries = append(feed.Entries, navEntry("search:authors", "Authors ("+strconv.Itoa(len(authors))+")",
			"{$HOST}/search?searchType=authors&searchTerm="+url.QueryEscape(term)+"&pageNumber=0", opds.MIMENavigationFeed))

		s.writeFeed(w, r, feed)
		return
	}

	pageNumber, _ := strconv.Atoi(q.Get("pageNumber"))
	if pageNumber < 0 {
		pageNumber = 0
	}

	feed := opds.NewAcquisitionFeed("urn:tinyopds:search:"+term, "Search results for \""+term+"\"")
	feed.AddLink(opds.RelSelf, r.URL.RequestURI(), opds.MIMEAcquisitionFeed)
	feed.AddLink(opds.RelStart, "{$HOST}/", opds.MIMENavigationFeed)

	acceptFB2 := acceptsFB2Natively(r.UserAgent())

	switch searchType {
	case "authors":
		for _, name := range s.lib.GetAuthorsByName(term, true) {
			books := s.lib.GetBooksByAuthor(name)
			for _, bk := range pageSlice(books, pageNumber, s.cfg.PageSize) {
				feed.Entries = append(feed.Entries, bookEntry(bk, acceptFB2))
			}
		}
	default: // "titles" and anything else default to title search
		books := s.lib.GetBooksByTitle(term)
		for _, bk := range pageSlice(books, pageNumber, s.cfg.PageSize) {
			feed.Entries = append(feed.Entries, bookEntry(bk, acceptFB2))
		}
	}

	addOpenSearchPaging(feed, r, pageNumber)
	s.writeFeed(w, r, feed)
}

func addOpenSearchPaging(feed *opds.Feed, r *http.Request, pageNumber int) {
	q := r.URL.Query()
	if pageNumber > 0 {
		q.Set("pageNumber", strconv.Itoa(pageNumber-1))
		feed.AddLink(opds.RelPrevious, r.URL.Path+"?"+q.Encode(), opds.MIMEAcquisitionFeed)
	}
	q.Set("pageNumber", strconv.Itoa(pageNumber+1))
	feed.AddLink(opds.RelNext, r.URL.Path+"?"+q.Encode(), opds.MIMEAcquisitionFeed)
}

// handleOpenSearch serves the OpenSearch description document.
func (s *Server) handleOpenSearch(w http.ResponseWriter, r *http.Request) {
	type openSearchDescription struct {
		XMLName     xml.Name `xml:"OpenSearchDescription"`
		Xmlns       string   `xml:"xmlns,attr"`
		ShortName   string   `xml:"ShortName"`
		Description string   `xml:"Description"`
		URL         struct {
			Type     string `xml:"type,attr"`
			Template string `xml:"template,attr"`
		} `xml:"Url"`
	}
	desc := openSearchDescription{
		Xmlns:       "http://a9.com/-/spec/opensearch/1.1/",
		ShortName:   "TinyOPDS",
		Description: "Search the TinyOPDS catalog",
	}
	desc.URL.Type = opds.MIMEAcquisitionFeed
	desc.URL.Template = s.baseURL(r) + "/search?searchTerm={searchTerms}"

	data, err := xml.MarshalIndent(desc, "", "  ")
	if err != nil {
		http.Error(w, "opensearch serialization error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", opds.MIMEOpenSearchDesc+"; charset=utf-8")
	w.Write([]byte(xml.Header))
	w.Write(data)
}

// handleCover and handleThumbnail serve the resized, cached cover image for
// a book, deriving it from the source file on cache miss.
func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, covercache.Cover)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, covercache.Thumbnail)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, kind covercache.Kind) {
	id := strings.TrimSuffix(mux.Vars(r)["id"], ".jpeg")

	if cached, ok := s.covers.Get(id, kind); ok {
		writeJPEG(w, cached)
		return
	}

	book, ok := s.lib.GetBook(id)
	if !ok || !book.HasCover {
		http.NotFound(w, r)
		return
	}

	raw, err := fetchCoverBytes(s.cfg.LibraryPath, book, s.taxonomy)
	if err != nil || raw == nil {
		http.NotFound(w, r)
		return
	}

	encoded, err := s.covers.Put(id, kind, raw)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJPEG(w, encoded)
}

func writeJPEG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// handleArtifact serves a book download: "<id>/<anything>.fb2.zip" or
// "<id>/<anything>.epub".
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	rest := vars["rest"]

	book, ok := s.lib.GetBook(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case strings.HasSuffix(rest, ".fb2.zip"):
		raw, err := fetchBookBytes(s.cfg.LibraryPath, book)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		zipped, err := buildFB2Zip(book, raw)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/fb2+zip")
		w.Write(zipped)

	case strings.HasSuffix(rest, ".epub"):
		data, err := fetchEPUBBytes(r.Context(), s.cfg.LibraryPath, book, s.conv)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", opds.MIMEEPub)
		w.Write(data)

	default:
		http.NotFound(w, r)
	}
}

// paginate returns the page implied by the request's "pageNumber" query
// parameter, using pageSize-sized pages.
func paginate(books []catalog.Book, r *http.Request, pageSize int) []catalog.Book {
	pageNumber, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
	return pageSlice(books, pageNumber, pageSize)
}

func pageSlice(books []catalog.Book, pageNumber, pageSize int) []catalog.Book {
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageNumber < 0 {
		pageNumber = 0
	}
	start := pageNumber * pageSize
	if start >= len(books) {
		return nil
	}
	end := start + pageSize
	if end > len(books) {
		end = len(books)
	}
	return books[start:end]
}
