package main

// Wire protocol for the buzzer game. Inbound messages share a single tagged
// struct, validated before dispatch; outbound messages are one struct per
// event type and always carry a full snapshot of the affected state, never
// a delta, so clients self-heal on the next broadcast.

// Messages coming from clients
type ClientMessage struct {
	Type      string `json:"type"`                // "createGame", "join", "buzz", "clear", "awardPoint", "hostLoaded", "playerLoaded"
	Identity  string `json:"identity,omitempty"`  // client-generated token, stable across reconnects
	Name      string `json:"name,omitempty"`      // display name
	Team      string `json:"team,omitempty"`      // team name
	Code      string `json:"code,omitempty"`      // game code
	HostToken string `json:"hostToken,omitempty"` // opaque host recovery token
}

// User is one active roster entry as clients see it.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Team string `json:"team"`
}

// Buzz is one entry in the ordered buzz queue.
type Buzz struct {
	Name string `json:"name"`
	Team string `json:"team"`
}

// GameCreatedMessage is sent to the creator only. The host token must be
// presented verbatim to reclaim the host slot after a disconnect.
type GameCreatedMessage struct {
	Type      string `json:"type"` // "gameCreated"
	Code      string `json:"code"`
	HostToken string `json:"hostToken"`
}

type ActiveMessage struct {
	Type  string `json:"type"` // "active"
	Users []User `json:"users"`
}

type BuzzesMessage struct {
	Type   string `json:"type"` // "buzzes"
	Buzzes []Buzz `json:"buzzes"`
}

type ScoresMessage struct {
	Type   string         `json:"type"` // "scores"
	Scores map[string]int `json:"scores"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// RedirectMessage tells a reconnected host to navigate back to the host view.
type RedirectMessage struct {
	Type string `json:"type"` // "redirectToHost"
	Code string `json:"code"`
}

func activeMessage(users []User) ActiveMessage {
	return ActiveMessage{Type: "active", Users: users}
}

func buzzesMessage(buzzes []Buzz) BuzzesMessage {
	return BuzzesMessage{Type: "buzzes", Buzzes: buzzes}
}

func scoresMessage(scores map[string]int) ScoresMessage {
	return ScoresMessage{Type: "scores", Scores: scores}
}

func errorMessage(text string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: text}
}

// validate rejects malformed payloads at the gateway boundary, before any
// Room operation runs.
func (msg *ClientMessage) validate() error {
	switch msg.Type {
	case "createGame":
		if msg.Identity == "" || msg.Name == "" {
			return errMalformedInput
		}
	case "join":
		if msg.Code == "" || msg.Identity == "" {
			return errMalformedInput
		}
		if msg.HostToken == "" && (msg.Name == "" || msg.Team == "") {
			return errMalformedInput
		}
	case "buzz":
		if msg.Code == "" || msg.Identity == "" || msg.Name == "" || msg.Team == "" {
			return errMalformedInput
		}
	case "clear":
		if msg.Code == "" {
			return errMalformedInput
		}
	case "awardPoint":
		if msg.Code == "" || msg.Team == "" {
			return errMalformedInput
		}
	case "hostLoaded":
		if msg.Code == "" || msg.HostToken == "" {
			return errMalformedInput
		}
	case "playerLoaded":
		if msg.Code == "" || msg.Identity == "" {
			return errMalformedInput
		}
	default:
		return errMalformedInput
	}

	return nil
}
