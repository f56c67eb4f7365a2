package databricks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Genie message lifecycle states.
const (
	genieStateCompleted = "COMPLETED"
	genieStateFailed    = "FAILED"
	genieStateCancelled = "CANCELLED"
)

const maxResultRows = 10

// GenieClient asks questions against a Genie conversational space. A
// conversation is created implicitly by the first message; subsequent turns
// post into the returned conversation id.
type GenieClient struct {
	host         string
	spaceID      string
	auth         AuthProvider
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewGenieClient creates a client for the given space.
func NewGenieClient(host, spaceID string, auth AuthProvider, pollInterval time.Duration) *GenieClient {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &GenieClient{
		host:         normalizeHost(host),
		spaceID:      strings.TrimSpace(spaceID),
		auth:         auth,
		pollInterval: pollInterval,
		httpClient:   &http.Client{},
	}
}

// Name returns the backend name.
func (c *GenieClient) Name() string { return "genie" }

type genieMessage struct {
	ID             string            `json:"id"`
	MessageID      string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	Status         string            `json:"status"`
	Content        string            `json:"content"`
	Attachments    []genieAttachment `json:"attachments"`
	Error          *genieError       `json:"error"`
}

type genieError struct {
	Message string `json:"message"`
}

type genieAttachment struct {
	Text  *genieTextAttachment  `json:"text"`
	Query *genieQueryAttachment `json:"query"`
}

type genieTextAttachment struct {
	Content string `json:"content"`
}

type genieQueryAttachment struct {
	Description string `json:"description"`
	StatementID string `json:"statement_id"`
}

type genieSendResponse struct {
	ID             string        `json:"id"`
	MessageID      string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	Message        *genieMessage `json:"message"`
}

// Ask sends text into the space, waits for Genie to finish and returns the
// answer. sessionID is the Genie conversation id; "" starts a new
// conversation whose id is returned for the next turn.
func (c *GenieClient) Ask(ctx context.Context, sessionID, text string) (string, string, error) {
	convID, msgID, err := c.sendMessage(ctx, sessionID, text)
	if err != nil {
		return "", "", err
	}

	msg, err := c.waitForCompletion(ctx, convID, msgID)
	if err != nil {
		return "", "", err
	}
	if msg.Status != genieStateCompleted {
		detail := "unknown error"
		if msg.Error != nil && strings.TrimSpace(msg.Error.Message) != "" {
			detail = msg.Error.Message
		}
		return "", "", &UpstreamError{Op: "genie message", Err: fmt.Errorf("state %s: %s", msg.Status, detail)}
	}

	answer := c.renderAnswer(ctx, msg)
	if strings.TrimSpace(answer) == "" {
		answer = "Query executed successfully."
	}
	return answer, convID, nil
}

func (c *GenieClient) sendMessage(ctx context.Context, conversationID, text string) (convID, msgID string, err error) {
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/start-conversation", c.spaceID)
	if strings.TrimSpace(conversationID) != "" {
		path = fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages", c.spaceID, conversationID)
	}

	var out genieSendResponse
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"content": text}, &out); err != nil {
		return "", "", err
	}

	convID = out.ConversationID
	msgID = firstNonEmpty(out.MessageID, out.ID)
	if out.Message != nil {
		convID = firstNonEmpty(out.Message.ConversationID, convID)
		msgID = firstNonEmpty(out.Message.ID, msgID)
	}
	if convID == "" {
		convID = conversationID
	}
	if convID == "" || msgID == "" {
		return "", "", &UpstreamError{Op: "genie send", Err: fmt.Errorf("response missing conversation or message id")}
	}
	return convID, msgID, nil
}

func (c *GenieClient) waitForCompletion(ctx context.Context, conversationID, messageID string) (*genieMessage, error) {
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages/%s", c.spaceID, conversationID, messageID)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var msg genieMessage
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &msg); err != nil {
			return nil, err
		}
		switch msg.Status {
		case genieStateCompleted, genieStateFailed, genieStateCancelled:
			return &msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, wrapTransportError("genie poll", ctx.Err())
		case <-ticker.C:
		}
	}
}

// renderAnswer flattens a completed message into reply text: text
// attachments, query descriptions and, when a query produced a statement,
// the first rows of the result as a monospace table. Statement fetch
// failures degrade to the text-only answer.
func (c *GenieClient) renderAnswer(ctx context.Context, msg *genieMessage) string {
	var b strings.Builder
	statementID := ""
	for _, att := range msg.Attachments {
		if att.Text != nil && strings.TrimSpace(att.Text.Content) != "" {
			b.WriteString(strings.TrimSpace(att.Text.Content))
			b.WriteString("\n\n")
		}
		if att.Query != nil {
			if d := strings.TrimSpace(att.Query.Description); d != "" {
				b.WriteString(d)
				b.WriteString("\n\n")
			}
			if att.Query.StatementID != "" {
				statementID = att.Query.StatementID
			}
		}
	}
	if b.Len() == 0 && strings.TrimSpace(msg.Content) != "" {
		b.WriteString(strings.TrimSpace(msg.Content))
		b.WriteString("\n\n")
	}

	if statementID != "" {
		if table := c.fetchResultTable(ctx, statementID); table != "" {
			b.WriteString(table)
		}
	}
	return strings.TrimSpace(b.String())
}

type statementResponse struct {
	Manifest struct {
		Schema struct {
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
		} `json:"schema"`
	} `json:"manifest"`
	Result struct {
		DataArray [][]any `json:"data_array"`
		RowCount  int     `json:"row_count"`
	} `json:"result"`
}

func (c *GenieClient) fetchResultTable(ctx context.Context, statementID string) string {
	var out statementResponse
	path := "/api/2.0/sql/statements/" + statementID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return ""
	}
	if len(out.Result.DataArray) == 0 {
		return ""
	}

	columns := make([]string, 0, len(out.Manifest.Schema.Columns))
	for i, col := range out.Manifest.Schema.Columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			name = fmt.Sprintf("col_%d", i)
		}
		columns = append(columns, name)
	}

	rowCount := out.Result.RowCount
	if rowCount < len(out.Result.DataArray) {
		rowCount = len(out.Result.DataArray)
	}
	rows := out.Result.DataArray
	if len(rows) > maxResultRows {
		rows = rows[:maxResultRows]
	}

	table := renderTable(columns, rows)
	msg := "*Query results:*\n```\n" + table + "\n```"
	if rowCount > len(rows) {
		msg += fmt.Sprintf("\n_Showing %d of %d rows_", len(rows), rowCount)
	}
	return msg
}

// renderTable formats rows as a fixed-width table. Cell width is capped so
// one wide value cannot blow up the whole reply.
func renderTable(columns []string, rows [][]any) string {
	const maxCellWidth = 30

	widths := make([]int, len(columns))
	for i, name := range columns {
		widths[i] = len(name)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i := range columns {
			v := ""
			if i < len(row) && row[i] != nil {
				v = fmt.Sprintf("%v", row[i])
			}
			if utf8.RuneCountInString(v) > maxCellWidth {
				v = string([]rune(v)[:maxCellWidth])
			}
			cells[r][i] = v
			if len(v) > widths[i] {
				widths[i] = len(v)
			}
		}
	}

	var b strings.Builder
	for i, name := range columns {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(pad(name, widths[i]))
	}
	b.WriteString("\n")
	for i, w := range widths {
		if i > 0 {
			b.WriteString("-+-")
		}
		b.WriteString(strings.Repeat("-", w))
	}
	for _, row := range cells {
		b.WriteString("\n")
		for i, v := range row {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(pad(v, widths[i]))
		}
	}
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func (c *GenieClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	op := "genie " + strings.ToLower(method)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapTransportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return classifyHTTPError(op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
