// Package catalog fetches the list of model names a channel's upstream
// currently exposes and reconciles it against the stored model set.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"probewatch/internal/model"
	"probewatch/internal/probe"
	"probewatch/internal/storage"
)

// clientSource is the subset of *probe.Executor the catalog syncer
// needs: a proxy-aware client keyed by a channel's proxyUrl, so the
// catalog fetch goes through the same proxy rules as the probe itself.
type clientSource interface {
	ClientFor(proxyURL string) (*http.Client, error)
}

// Syncer fetches {baseUrl}/v1/models and reconciles the result into the
// store, never deleting stale entries.
type Syncer struct {
	clients clientSource
	store   storage.ModelStore
}

func NewSyncer(clients *probe.Executor, store storage.ModelStore) *Syncer {
	return &Syncer{clients: clients, store: store}
}

// Result is the per-channel outcome reported back to the detection
// service's triggerFull/triggerSelective callers.
type Result struct {
	ChannelID int64
	Added     int
	Total     int
	Err       error
}

// Sync fetches the channel's model catalog and adds any names the
// store doesn't already have for it. It never removes existing models.
// proxyURL routes the fetch through the same proxy the channel's probes
// use, per §4.10; empty means a direct connection.
func (s *Syncer) Sync(ctx context.Context, channelID int64, baseURL, apiKey, proxyURL string) Result {
	names, err := s.fetchModelNames(ctx, baseURL, apiKey, proxyURL)
	if err != nil {
		return Result{ChannelID: channelID, Err: err}
	}
	if len(names) == 0 {
		return Result{ChannelID: channelID, Err: errors.New("empty model list")}
	}

	added, err := s.store.ReplaceOrAddModels(ctx, channelID, names)
	if err != nil {
		return Result{ChannelID: channelID, Err: err}
	}
	return Result{ChannelID: channelID, Added: added, Total: len(names)}
}

func (s *Syncer) fetchModelNames(ctx context.Context, baseURL, apiKey, proxyURL string) ([]string, error) {
	url := model.NormalizeBaseURL(baseURL) + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client, err := s.clients.ClientFor(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalog fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, err
	}

	return parseModelNames(body)
}

// parseModelNames accepts either {data:[{id}]} (OpenAI-shaped) or
// {models:[{name}]} (Gemini-shaped).
func parseModelNames(body []byte) ([]string, error) {
	var openaiShape struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(body, &openaiShape); err == nil && len(openaiShape.Data) > 0 {
		names := make([]string, 0, len(openaiShape.Data))
		for _, d := range openaiShape.Data {
			if d.ID != "" {
				names = append(names, d.ID)
			}
		}
		if len(names) > 0 {
			return names, nil
		}
	}

	var geminiShape struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := sonic.Unmarshal(body, &geminiShape); err == nil && len(geminiShape.Models) > 0 {
		names := make([]string, 0, len(geminiShape.Models))
		for _, m := range geminiShape.Models {
			if m.Name != "" {
				names = append(names, m.Name)
			}
		}
		if len(names) > 0 {
			return names, nil
		}
	}

	return nil, nil
}
