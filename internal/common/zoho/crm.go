package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	httpclient "crm-reminders/internal/common/http"
)

// ErrContactNotFound is returned when Zoho has no contact with the given id.
var ErrContactNotFound = errors.New("zoho contact not found")

// CRMClient reads contacts from the Zoho CRM v3 API.
type CRMClient struct {
	oauthToken string
	baseURL    string
	http       *httpclient.Client
}

type Contact struct {
	ID          string `json:"id"`
	Email       string `json:"Email"`
	FirstName   string `json:"First_Name"`
	LastName    string `json:"Last_Name"`
	Phone       string `json:"Phone,omitempty"`
	Mobile      string `json:"Mobile,omitempty"`
	Description string `json:"Description,omitempty"`
	Account     *struct {
		Name string `json:"name"`
	} `json:"Account_Name,omitempty"`
}

// FullName joins first and last name.
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// AccountName returns the linked account name, if any.
func (c *Contact) AccountName() string {
	if c.Account == nil {
		return ""
	}
	return c.Account.Name
}

func NewCRMClient(baseURL, oauthToken string, client *httpclient.Client) *CRMClient {
	return &CRMClient{
		oauthToken: oauthToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       client,
	}
}

func (c *CRMClient) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	endpoint := fmt.Sprintf("%s/Contacts/%s", c.baseURL, url.PathEscape(contactID))

	resp, err := c.http.Get(ctx, endpoint, map[string]string{
		"Authorization": "Zoho-oauthtoken " + c.oauthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("get contact %s: %w", contactID, err)
	}

	// Zoho answers unknown record ids with 204 No Content.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, ErrContactNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get contact (status %d): %s", resp.StatusCode, string(resp.Body))
	}

	var result struct {
		Data []Contact `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, ErrContactNotFound
	}

	return &result.Data[0], nil
}
