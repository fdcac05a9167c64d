package server

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-tony/internal/config"
	"github.com/teslashibe/go-tony/pkg/protocol"
	"github.com/teslashibe/go-tony/pkg/session"
)

func (s *Server) fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(protocol.ErrorResponse{Error: msg})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	monitors := 0
	if s.deps.Hub != nil {
		monitors = s.deps.Hub.ClientCount()
	}
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  Version,
		"sessions": s.deps.Registry.Stats().ActiveSessions,
		"monitors": monitors,
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sessions": s.deps.Registry.Stats(),
		"keys":     s.deps.Keys.Configured(),
	})
}

// handleKeys updates API keys at runtime. Blank fields are ignored.
func (s *Server) handleKeys(c *fiber.Ctx) error {
	var req protocol.KeysRequest
	if err := c.BodyParser(&req); err != nil {
		s.logger.Warn("bad key update", "error", err)
		return s.fail(c, fiber.StatusBadRequest, "invalid JSON body")
	}
	updated := s.deps.Keys.Set(map[string]string{
		config.KeyMurf:          req.Murf,
		config.KeyAssemblyAI:    req.AssemblyAI,
		config.KeyGemini:        req.Gemini,
		config.KeyFinnhub:       req.Finnhub,
		config.KeyAlphaVantage:  req.AlphaVantage,
		config.KeyOpenWeather:   req.OpenWeather,
		config.KeyPolygon:       req.Polygon,
		config.KeyCoinMarketCap: req.CoinMarketCap,
	})
	if updated == nil {
		updated = []string{}
	}
	s.logger.Info("api keys updated", "keys", updated)
	return c.JSON(protocol.KeysResponse{Status: "ok", Updated: updated})
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

func (s *Server) handleListTools(c *fiber.Ctx) error {
	infos := []toolInfo{}
	if s.deps.Tools != nil {
		for _, t := range s.deps.Tools.Tools() {
			infos = append(infos, toolInfo{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
	}
	return c.JSON(infos)
}

type triggerRequest struct {
	Args map[string]any `json:"args"`
}

// handleTriggerTool runs a tool by hand.
func (s *Server) handleTriggerTool(c *fiber.Ctx) error {
	name := c.Params("name")
	if s.deps.Tools == nil {
		return s.fail(c, fiber.StatusNotFound, "Unknown function: "+name)
	}
	if _, ok := s.deps.Tools.Lookup(name); !ok {
		return c.Status(fiber.StatusNotFound).JSON(s.deps.Tools.Dispatch(c.UserContext(), name, nil))
	}

	var req triggerRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return s.fail(c, fiber.StatusBadRequest, "invalid JSON body")
		}
	}
	res := s.deps.Tools.Dispatch(c.UserContext(), name, req.Args)
	s.logger.Info("manual tool call", "tool", name, "success", res.Success)
	return c.JSON(res)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	id := c.Params("id")
	h, ok := s.deps.Registry.Lookup(id)
	if !ok {
		return s.fail(c, fiber.StatusNotFound, "unknown session")
	}
	return c.JSON(fiber.Map{"session_id": id, "turns": h.Turns()})
}

func (s *Server) handleGenerateAudio(c *fiber.Ctx) error {
	var req protocol.GenerateAudioRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, fiber.StatusBadRequest, "invalid JSON body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return s.fail(c, fiber.StatusBadRequest, "text is required")
	}
	url, err := s.deps.Speech.Synthesize(c.UserContext(), req.Text)
	if err != nil {
		s.logger.Error("text to speech failed", "error", err)
		return s.fail(c, fiber.StatusBadGateway, protocol.MsgAudioFailed)
	}
	return c.JSON(protocol.AudioURLResponse{AudioURL: url})
}

func (s *Server) handleTranscribeFile(c *fiber.Ctx) error {
	audio, err := readUpload(c)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, err.Error())
	}
	text, err := s.deps.Files.TranscribeFile(c.UserContext(), audio)
	if err != nil {
		s.logger.Error("file transcription failed", "error", err)
		return s.fail(c, fiber.StatusBadGateway, protocol.MsgTranscriptionUnavailable)
	}
	return c.JSON(protocol.TranscriptionResponse{Transcription: text})
}

// handleAgentChat runs one turn from an uploaded recording and answers
// with the transcript, the reply and a hosted audio file of the reply.
func (s *Server) handleAgentChat(c *fiber.Ctx) error {
	id := c.Params("session")
	audio, err := readUpload(c)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, err.Error())
	}
	ctx := c.UserContext()
	logger := s.logger.With("session", id)

	text, err := s.deps.Files.TranscribeFile(ctx, audio)
	if err != nil {
		logger.Error("file transcription failed", "error", err)
		return s.fail(c, fiber.StatusBadGateway, protocol.MsgTranscriptionUnavailable)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return s.fail(c, fiber.StatusUnprocessableEntity, "no speech detected")
	}

	gen, err := s.deps.Generators.NewGenerator(ctx)
	if err != nil {
		logger.Error("generator setup failed", "error", err)
		return s.fail(c, fiber.StatusBadGateway, protocol.MsgGenerationFailed)
	}
	var dispatcher session.Dispatcher
	if s.deps.Tools != nil {
		dispatcher = s.deps.Tools
	}
	res, err := session.Exchange(ctx, s.deps.Registry.History(id), gen, dispatcher, text)
	switch {
	case errors.Is(err, session.ErrEmptyReply):
		return s.fail(c, fiber.StatusBadGateway, protocol.MsgNoResponse)
	case err != nil:
		logger.Error("generation failed", "error", err)
		return s.fail(c, fiber.StatusBadGateway, protocol.MsgGenerationFailed)
	}

	out := protocol.ChatResponse{Transcription: text, Reply: res.Text}
	if url, err := s.deps.Speech.Synthesize(ctx, res.Text); err != nil {
		logger.Warn("reply audio failed", "error", err)
	} else {
		out.AudioURL = url
	}
	return c.JSON(out)
}

func readUpload(c *fiber.Ctx) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, errors.New("multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("uploaded file is empty")
	}
	return data, nil
}
