package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const flashCookie = "elibrary_flash"

// flash is one message queued for the next rendered page.
type flash struct {
	Category string `json:"category"` // success, warning, danger
	Message  string `json:"message"`
}

// addFlash queues a message on top of any already-queued ones.
func addFlash(w http.ResponseWriter, r *http.Request, category, message string) {
	flashes := peekFlashes(r)
	flashes = append(flashes, flash{Category: category, Message: message})
	data, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlashes returns queued messages and clears the cookie.
func popFlashes(w http.ResponseWriter, r *http.Request) []flash {
	flashes := peekFlashes(r)
	if len(flashes) > 0 {
		http.SetCookie(w, &http.Cookie{
			Name:     flashCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return flashes
}

func peekFlashes(r *http.Request) []flash {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var flashes []flash
	if err := json.Unmarshal(data, &flashes); err != nil {
		return nil
	}
	return flashes
}
