package backend

import "SmargeChat/internal/transcript"

// Wire paths of the SmargeAI backend
const (
	PathConversations = "/conversations"
	PathChat          = "/chat"
	PathLogin         = "/auth/login"
	PathRegister      = "/auth/register"
	PathMe            = "/auth/me"
)

// HeaderConversationID carries the id assigned to a new conversation
const HeaderConversationID = "X-Conversation-ID"

// HeaderRequestID is attached to every outgoing request
const HeaderRequestID = "X-Request-ID"

// ChatRequest represents the request body for POST /chat
type ChatRequest struct {
	ConversationID *string `json:"conversation_id"`
	Message        string  `json:"message"`
}

// WireMessage represents a message in a stored conversation
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationResponse represents the response from GET /conversations/{id}
type ConversationResponse struct {
	ID       string        `json:"id,omitempty"`
	Title    string        `json:"title,omitempty"`
	Messages []WireMessage `json:"messages"`
}

// Turns converts the wire messages into transcript turns
func (r ConversationResponse) Turns() ([]transcript.Turn, error) {
	turns := make([]transcript.Turn, 0, len(r.Messages))
	for _, msg := range r.Messages {
		role, err := transcript.ParseRole(msg.Role)
		if err != nil {
			return nil, err
		}
		turns = append(turns, transcript.Turn{Role: role, Content: msg.Content})
	}
	return turns, nil
}

// LoginRequest represents the request body for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest represents the request body for POST /auth/register
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse represents the response from the auth endpoints
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User represents the response from GET /auth/me
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
