// Package gemini wraps the Google Generative AI models that produce the
// four-pillars (saju) readings.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
)

const (
	modelFlash = "gemini-2.5-flash"
	modelPro   = "gemini-2.5-pro"

	// generateTimeout caps a single model call; readings are long-form and
	// the pro model can take over a minute.
	generateTimeout = 90 * time.Second

	maxGenerateAttempts = 2
)

// Client generates saju readings via the Gemini API.
type Client struct {
	client *genai.Client
	sleep  func(time.Duration)
}

// NewClient builds the Gemini client given an API key.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	trimmed := strings.TrimSpace(apiKey)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(trimmed))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create gemini client")
	}
	return &Client{client: client, sleep: time.Sleep}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Request carries the birth details for a reading.
type Request struct {
	Name      string
	BirthDate string
	BirthTime *string
	IsLunar   bool
	Model     enums.ModelType
}

// Generate produces a reading. Timeouts and rate limits are retried once with
// exponential backoff; everything else fails immediately.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c == nil || c.client == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gemini client not configured")
	}
	if strings.TrimSpace(req.Name) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if strings.TrimSpace(req.BirthDate) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "birth date is required")
	}

	prompt := buildPrompt(req)
	model := c.client.GenerativeModel(modelID(req.Model))
	model.SetTemperature(0.7)

	var lastErr error
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(time.Duration(1<<attempt) * time.Second)
		}

		text, err := c.generateOnce(ctx, model, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) generateOnce(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	resp, err := model.GenerateContent(callCtx, genai.Text(prompt))
	if err != nil {
		return "", classifyError(callCtx, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gemini returned no content")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	result := strings.TrimSpace(sb.String())
	if result == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gemini returned empty reading")
	}
	return result, nil
}

func modelID(model enums.ModelType) string {
	if model == enums.ModelPro {
		return modelPro
	}
	return modelFlash
}

// classifyError also inspects the call context: the gRPC transport can report
// deadline expiry as a status error that does not wrap
// context.DeadlineExceeded.
func classifyError(callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gemini call timed out")
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return pkgerrors.Wrap(pkgerrors.CodeRateLimit, err, "gemini rate limited")
		case http.StatusUnauthorized, http.StatusForbidden:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gemini auth rejected")
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gemini call failed")
}

// retryable limits retries to timeouts and rate limits; auth and malformed
// requests will not improve on a second attempt.
func retryable(err error) bool {
	if pkgerrors.Is(err, pkgerrors.CodeRateLimit) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("당신은 수십 년 경력의 사주명리학 전문가입니다. 아래 정보를 바탕으로 사주팔자를 풀이해 주세요.\n\n")
	fmt.Fprintf(&sb, "이름: %s\n", req.Name)
	calendar := "양력"
	if req.IsLunar {
		calendar = "음력"
	}
	fmt.Fprintf(&sb, "생년월일: %s (%s)\n", req.BirthDate, calendar)
	if req.BirthTime != nil && strings.TrimSpace(*req.BirthTime) != "" {
		fmt.Fprintf(&sb, "태어난 시간: %s\n", *req.BirthTime)
	} else {
		sb.WriteString("태어난 시간: 모름 (시주는 제외하고 풀이)\n")
	}
	sb.WriteString("\n다음 항목을 순서대로 다뤄 주세요:\n")
	sb.WriteString("1. 사주팔자 구성 (연주, 월주, 일주")
	if req.BirthTime != nil && strings.TrimSpace(*req.BirthTime) != "" {
		sb.WriteString(", 시주")
	}
	sb.WriteString(")\n")
	sb.WriteString("2. 오행의 분포와 일간의 특징\n")
	sb.WriteString("3. 성격과 타고난 기질\n")
	sb.WriteString("4. 재물운과 직업운\n")
	sb.WriteString("5. 대인관계와 애정운\n")
	sb.WriteString("6. 올해의 운세와 조언\n\n")
	sb.WriteString("전문 용어는 쉽게 풀어서 설명하고, 따뜻하고 희망적인 어조로 작성해 주세요.")
	return sb.String()
}
