package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/christian-lee/subtrans/internal/asrengine"
	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/mediahost"
	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/provider"
	"github.com/christian-lee/subtrans/internal/subtitle"
)

// mtDefaultBatchSize is used when Engine.BatchSize is unset, matching
// config.TranslationConfig's default (translation_batch_size).
const mtDefaultBatchSize = 10

// mtDefaultMaxLineLength is used when Engine.MaxLineLength is unset,
// matching config.TranslationConfig's default (translation_max_line_length).
const mtDefaultMaxLineLength = 42

// cueMarkerPattern matches the marker that brackets a cue's ordinal in a batched prompt/response so the
// reply can be split back into per-cue translations regardless of how the
// model reflows whitespace around each line.
var cueMarkerPattern = regexp.MustCompile(`\[\[(\d+)\]\]`)

func (e *Engine) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return mtDefaultBatchSize
}

func (e *Engine) maxLineLength() int {
	if e.MaxLineLength > 0 {
		return e.MaxLineLength
	}
	return mtDefaultMaxLineLength
}

// runInit resolves the job's source media to a local path and records it,
// skipping straight to pull if already completed (checkpoint resume).
func (e *Engine) runInit(ctx context.Context, job *model.Job) (model.Phase, error) {
	if job.HasCompletedPhase(model.PhaseInit) {
		return model.PhasePull, nil
	}

	var localPath string
	switch job.SourceType {
	case model.SourceHostItem:
		if e.MediaHost == nil {
			return "", jobcore.New("engine.runInit", jobcore.Internal, fmt.Errorf("no media host client configured"))
		}
		p, err := e.MediaHost.FetchItem(ctx, job.SourceRef)
		if err != nil {
			return "", err
		}
		localPath = p
	case model.SourceSubtitle, model.SourceAudio, model.SourceMedia:
		if _, err := os.Stat(job.SourceRef); err != nil {
			return "", jobcore.New("engine.runInit", jobcore.NotFound, err)
		}
		localPath = job.SourceRef
	default:
		return "", jobcore.New("engine.runInit", jobcore.BadInput, fmt.Errorf("unknown source type %q", job.SourceType))
	}

	if _, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
		j.SourceRef = localPath
		j.MarkPhaseComplete(model.PhaseInit)
		return nil
	}); err != nil {
		return "", jobcore.New("engine.runInit", jobcore.Internal, err)
	}
	return model.PhasePull, nil
}

// runPull ensures the job's requested provider/model is available,
// pulling it first if the provider family supports on-demand pulls (local
// host only).
func (e *Engine) runPull(ctx context.Context, job *model.Job) (model.Phase, error) {
	if job.HasCompletedPhase(model.PhasePull) {
		return model.PhaseASR, nil
	}

	p, modelName, err := e.Registry.Resolve(job.Model)
	if err != nil {
		return "", err
	}

	if p.SupportsModelPull() {
		exists, err := p.ModelExists(ctx, modelName)
		if err != nil {
			return "", err
		}
		if !exists {
			puller, ok := p.(provider.ModelPuller)
			if !ok {
				return "", jobcore.New("engine.runPull", jobcore.Internal, fmt.Errorf("provider %q claims pull support but does not implement ModelPuller", p.Name()))
			}
			if err := puller.PullModel(ctx, modelName); err != nil {
				return "", err
			}
		}
	}

	if _, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
		j.Provider = p.Name()
		j.Model = modelName
		j.MarkPhaseComplete(model.PhasePull)
		return nil
	}); err != nil {
		return "", jobcore.New("engine.runPull", jobcore.Internal, err)
	}
	return model.PhaseASR, nil
}

// runASR extracts audio from the source media (if not already done) and
// transcribes it via the chunked/overlap-merged asrengine pipeline,
// writing the result as <job-id>.source.srt in the work directory.
func (e *Engine) runASR(ctx context.Context, job *model.Job) (model.Phase, error) {
	if job.HasCompletedPhase(model.PhaseASR) && job.ASROutputPath != "" {
		return model.PhaseMT, nil
	}

	// A subtitle source already has translatable text; there's nothing to
	// transcribe, per spec.md §4.3's asr phase precondition.
	if job.SourceType == model.SourceSubtitle {
		if _, err := os.Stat(job.SourceRef); err != nil {
			return "", jobcore.New("engine.runASR", jobcore.NotFound, err)
		}
		if _, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
			j.ASROutputPath = job.SourceRef
			j.MarkPhaseComplete(model.PhaseASR)
			return nil
		}); err != nil {
			return "", jobcore.New("engine.runASR", jobcore.Internal, err)
		}
		return model.PhaseMT, nil
	}

	workDir := e.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	wavPath := filepath.Join(workDir, job.ID+".wav")

	if job.ASRSourcePath == "" {
		if e.Extractor == nil {
			return "", jobcore.New("engine.runASR", jobcore.Internal, fmt.Errorf("no audio extractor configured"))
		}
		if err := e.Extractor.Extract(ctx, job.SourceRef, wavPath); err != nil {
			return "", err
		}
		if _, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
			j.ASRSourcePath = wavPath
			return nil
		}); err != nil {
			return "", jobcore.New("engine.runASR", jobcore.Internal, err)
		}
	} else {
		wavPath = job.ASRSourcePath
	}

	pcm, err := asrengine.ReadWAV(wavPath)
	if err != nil {
		return "", err
	}

	transcriber, err := e.Transcribers(job.Provider)
	if err != nil {
		return "", err
	}

	threshold := e.ChunkThreshold
	if threshold <= 0 {
		threshold = asrengine.DefaultChunkThreshold
	}
	overlap := e.ChunkOverlap
	if overlap <= 0 {
		overlap = asrengine.DefaultChunkOverlap
	}

	segments, err := asrengine.Transcribe(ctx, transcriber, pcm, job.SourceLang, threshold, overlap)
	if err != nil {
		return "", err
	}

	track := make(subtitle.Track, len(segments))
	for i, s := range segments {
		track[i] = subtitle.Cue{Index: i + 1, Start: s.Start, End: s.End, Text: s.Text}
	}

	srtPath := filepath.Join(workDir, job.ID+".source.srt")
	var buf bytes.Buffer
	if err := subtitle.EncodeSRT(&buf, track); err != nil {
		return "", jobcore.New("engine.runASR", jobcore.Internal, err)
	}
	if err := os.WriteFile(srtPath, buf.Bytes(), 0644); err != nil {
		return "", jobcore.New("engine.runASR", jobcore.Internal, err)
	}

	if _, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
		j.ASROutputPath = srtPath
		j.MarkPhaseComplete(model.PhaseASR)
		return nil
	}); err != nil {
		return "", jobcore.New("engine.runASR", jobcore.Internal, err)
	}
	if err := e.Store.SaveCheckpoint(ctx, &model.Checkpoint{
		JobID: job.ID, CompletedPhases: append(job.CompletedPhases, model.PhaseASR),
		CompletedTargetLangs: job.CompletedTargetLangs, ASROutputPath: srtPath, UpdatedAt: time.Now(),
	}); err != nil {
		return "", jobcore.New("engine.runASR", jobcore.Internal, err)
	}

	return model.PhaseMT, nil
}

// runMT translates the source SRT into every remaining target language,
// batch by batch. The strict quota check (CheckStrict) runs once, at job
// dispatch, in internal/queue.Dispatcher.dispatch, before a worker ever
// reaches this phase; every resume re-enqueues the job and so passes
// through that same check again. CheckPauseOnExceed runs here, per batch,
// for both the daily and monthly period. Finishing a batch persists the
// partial translation so a pause mid-language resumes without redoing
// prior batches for that language.
func (e *Engine) runMT(ctx context.Context, job *model.Job) (model.Phase, error) {
	remaining := job.RemainingTargetLangs()
	if len(remaining) == 0 {
		return model.PhasePost, nil
	}

	sourceTrack, err := e.loadSourceTrack(job)
	if err != nil {
		return "", err
	}

	lang := remaining[0]
	p, _, err := e.Registry.Resolve(job.Provider + ":" + job.Model)
	if err != nil {
		p, _, err = e.Registry.Resolve(job.Model)
		if err != nil {
			return "", err
		}
	}

	batchSize := e.batchSize()
	translated := make([]subtitle.Translation, 0, len(sourceTrack))
	for start := 0; start < len(sourceTrack); start += batchSize {
		if err := ctx.Err(); err != nil {
			return "", jobcore.New("engine.runMT", jobcore.Cancelled, err)
		}

		if e.Ledger != nil {
			for _, period := range []model.QuotaPeriod{model.QuotaDaily, model.QuotaMonthly} {
				pause, resumeAt, err := e.Ledger.CheckPauseOnExceed(ctx, job.Provider, period)
				if err != nil {
					return "", err
				}
				if pause {
					return e.pause(ctx, job.ID, resumeAt, fmt.Sprintf("%s quota exceeded", period))
				}
			}
		}

		end := start + batchSize
		if end > len(sourceTrack) {
			end = len(sourceTrack)
		}
		batch := sourceTrack[start:end]

		results, firedRules, err := e.translateBatch(ctx, p, job, lang, batch)
		if err != nil {
			return "", err
		}
		translated = append(translated, results...)

		extra := lang
		if len(firedRules) > 0 {
			extra += ";corrections:" + strings.Join(firedRules, ",")
		}
		e.appendLog(ctx, job.ID, model.PhaseMT, model.StatusRunning, end, len(sourceTrack), extra)
	}

	outPath := filepath.Join(e.workDirOrDefault(), fmt.Sprintf("%s.%s.srt", job.ID, lang))
	outTrack := make(subtitle.Track, len(translated))
	for i, t := range translated {
		src := sourceTrack[t.Index-1]
		outTrack[i] = subtitle.Cue{Index: t.Index, Start: src.Start, End: src.End, Text: t.Text}
	}
	var buf bytes.Buffer
	if err := subtitle.EncodeSRT(&buf, outTrack); err != nil {
		return "", jobcore.New("engine.runMT", jobcore.Internal, err)
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
		return "", jobcore.New("engine.runMT", jobcore.Internal, err)
	}

	if _, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
		if j.ResultPaths == nil {
			j.ResultPaths = map[string]string{}
		}
		j.ResultPaths[lang] = outPath
		j.MarkTargetLangComplete(lang)
		return nil
	}); err != nil {
		return "", jobcore.New("engine.runMT", jobcore.Internal, err)
	}

	if len(remaining) > 1 {
		return model.PhaseMT, nil
	}
	return model.PhasePost, nil
}

// translateBatch translates batch in one Generate call: it builds a single
// prompt carrying every cue's text behind a stable [[N]] ordering marker,
// issues one request, and parses the reply back into per-cue translations
// by the same markers. If the reply can't be parsed into exactly len(batch)
// markers, it falls back to translating each cue in batch one at a time.
// Cached cues (by source text) are never sent to the provider either way.
// It returns the translations plus every correction rule ID that fired
// (and changed text) across the batch.
func (e *Engine) translateBatch(ctx context.Context, p provider.Provider, job *model.Job, lang string, batch subtitle.Track) ([]subtitle.Translation, []string, error) {
	out := make([]subtitle.Translation, 0, len(batch))
	var firedRules []string
	pending := make(subtitle.Track, 0, len(batch))

	for _, cue := range batch {
		if e.TMCache != nil {
			if cached, ok, err := e.TMCache.Lookup(ctx, cue.Text, job.SourceLang, lang, job.Model); err == nil && ok {
				out = append(out, subtitle.Translation{Index: cue.Index, Text: cached})
				continue
			}
		}
		pending = append(pending, cue)
	}
	if len(pending) == 0 {
		return out, firedRules, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, jobcore.New("engine.translateBatch", jobcore.Cancelled, err)
	}

	results, err := e.generateBatch(ctx, p, job, lang, pending)
	if err != nil {
		return nil, nil, err
	}
	if results == nil {
		results, err = e.generatePerCue(ctx, p, job, lang, pending)
		if err != nil {
			return nil, nil, err
		}
	}

	for _, r := range results {
		text := r.Text
		if e.Corrections != nil {
			var fired []string
			text, fired = e.Corrections.Apply(text, job.SourceLang, lang)
			firedRules = append(firedRules, fired...)
		}
		text = wrapSoft(text, e.maxLineLength())
		if e.TMCache != nil {
			for _, cue := range pending {
				if cue.Index == r.Index {
					_ = e.TMCache.Store(ctx, cue.Text, job.SourceLang, lang, job.Model, text)
					break
				}
			}
		}
		out = append(out, subtitle.Translation{Index: r.Index, Text: text})
	}
	return out, firedRules, nil
}

// generateBatch issues one provider call for the whole batch, per
// SPEC_FULL.md's mt step 2(c): a prompt carrying every cue behind a [[N]]
// marker, parsed back by the same markers. It returns (nil, nil) rather
// than an error when the reply can't be parsed into exactly len(batch)
// markers, signalling the caller to fall back to per-cue translation.
func (e *Engine) generateBatch(ctx context.Context, p provider.Provider, job *model.Job, lang string, batch subtitle.Track) ([]subtitle.Translation, error) {
	req := model.GenerateRequest{
		Model: job.Model,
		System: fmt.Sprintf(
			"Translate subtitle lines from %s to %s. The prompt has one line per cue, each "+
				"prefixed with a marker like [[3]]. Reply with the same markers, one per line, "+
				"each followed by only that cue's translation. Preserve the marker numbers exactly.",
			job.SourceLang, lang),
		Prompt: buildBatchPrompt(batch),
	}
	start := time.Now()
	res, err := provider.GenerateWithRetry(ctx, p, req)
	latency := time.Since(start)
	if err != nil {
		if e.Ledger != nil {
			_ = e.Ledger.RecordError(ctx, job.ID, job.Provider, job.Model, jobcore.KindOf(err))
		}
		return nil, err
	}
	if e.Ledger != nil {
		if _, err := e.Ledger.RecordUsage(ctx, job.ID, job.Provider, job.Model, res.InputTokens, res.OutputTokens, latency); err != nil {
			return nil, err
		}
	}

	parsed, ok := parseBatchResponse(res.Text, batch)
	if !ok {
		return nil, nil
	}
	return parsed, nil
}

// generatePerCue is the per-batch fallback: one Generate call per cue,
// used only when the batched prompt's reply fails to parse.
func (e *Engine) generatePerCue(ctx context.Context, p provider.Provider, job *model.Job, lang string, batch subtitle.Track) ([]subtitle.Translation, error) {
	out := make([]subtitle.Translation, 0, len(batch))
	for _, cue := range batch {
		if err := ctx.Err(); err != nil {
			return nil, jobcore.New("engine.generatePerCue", jobcore.Cancelled, err)
		}

		req := model.GenerateRequest{
			Model:  job.Model,
			System: fmt.Sprintf("Translate subtitle lines from %s to %s. Reply with only the translation.", job.SourceLang, lang),
			Prompt: cue.Text,
		}
		start := time.Now()
		res, err := provider.GenerateWithRetry(ctx, p, req)
		latency := time.Since(start)
		if err != nil {
			if e.Ledger != nil {
				_ = e.Ledger.RecordError(ctx, job.ID, job.Provider, job.Model, jobcore.KindOf(err))
			}
			return nil, err
		}
		if e.Ledger != nil {
			if _, err := e.Ledger.RecordUsage(ctx, job.ID, job.Provider, job.Model, res.InputTokens, res.OutputTokens, latency); err != nil {
				return nil, err
			}
		}
		out = append(out, subtitle.Translation{Index: cue.Index, Text: res.Text})
	}
	return out, nil
}

// buildBatchPrompt renders batch as one marker-per-line block, e.g.
// "[[1]] hello\n[[2]] world".
func buildBatchPrompt(batch subtitle.Track) string {
	var b strings.Builder
	for _, cue := range batch {
		fmt.Fprintf(&b, "[[%d]] %s\n", cue.Index, cue.Text)
	}
	return b.String()
}

// parseBatchResponse splits text by [[N]] markers and returns the
// translations in the same order as batch. It reports ok=false if any
// marker is missing, duplicated, or doesn't match a cue in batch.
func parseBatchResponse(text string, batch subtitle.Track) ([]subtitle.Translation, bool) {
	locs := cueMarkerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil, false
	}

	want := make(map[int]bool, len(batch))
	for _, cue := range batch {
		want[cue.Index] = true
	}

	seen := make(map[int]bool, len(locs))
	bodies := make(map[int]string, len(locs))
	for i, loc := range locs {
		idx, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || !want[idx] || seen[idx] {
			return nil, false
		}
		seen[idx] = true

		segStart := loc[1]
		segEnd := len(text)
		if i+1 < len(locs) {
			segEnd = locs[i+1][0]
		}
		bodies[idx] = strings.TrimSpace(text[segStart:segEnd])
	}

	if len(seen) != len(batch) {
		return nil, false
	}
	out := make([]subtitle.Translation, 0, len(batch))
	for _, cue := range batch {
		out = append(out, subtitle.Translation{Index: cue.Index, Text: bodies[cue.Index]})
	}
	return out, true
}

// wrapSoft inserts newlines at word boundaries so no visual line of text
// exceeds maxLen runes, matching translation_max_line_length's soft-wrap
// contract: it never splits inside a word. maxLen<=0 disables wrapping.
func wrapSoft(text string, maxLen int) string {
	if maxLen <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, wrapLine(line, maxLen))
	}
	return strings.Join(out, "\n")
}

func wrapLine(line string, maxLen int) string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return line
	}
	var lines []string
	cur := words[0]
	for _, w := range words[1:] {
		if len([]rune(cur))+1+len([]rune(w)) > maxLen {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur += " " + w
	}
	lines = append(lines, cur)
	return strings.Join(lines, "\n")
}

// runPost records the post phase as complete and hands the job on to
// writeback. Correction rules are applied during mt; this phase does not
// re-apply them and does not change or check any translated text.
func (e *Engine) runPost(ctx context.Context, job *model.Job) (model.Phase, error) {
	if job.HasCompletedPhase(model.PhasePost) {
		return model.PhaseWriteback, nil
	}
	if _, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
		j.MarkPhaseComplete(model.PhasePost)
		return nil
	}); err != nil {
		return "", jobcore.New("engine.runPost", jobcore.Internal, err)
	}
	return model.PhaseWriteback, nil
}

// runWriteback delivers each target language's result either as a sidecar
// file next to the source media or via the media host's Upload. Per
// SPEC_FULL.md's Open Question resolution, an upload failure is final:
// no retry, no fallback to sidecar mode.
func (e *Engine) runWriteback(ctx context.Context, job *model.Job) (model.Phase, error) {
	for lang, path := range job.ResultPaths {
		switch job.WritebackMode {
		case model.WritebackUpload:
			if e.MediaHost == nil {
				return "", jobcore.New("engine.runWriteback", jobcore.Internal, fmt.Errorf("no media host client configured"))
			}
			if err := e.MediaHost.Upload(ctx, job.SourceRef, lang, path); err != nil {
				return "", err
			}
		default:
			dest := mediahost.SidecarPath(job.SourceRef, lang)
			data, err := os.ReadFile(path)
			if err != nil {
				return "", jobcore.New("engine.runWriteback", jobcore.Internal, err)
			}
			if err := os.WriteFile(dest, data, 0644); err != nil {
				return "", jobcore.New("engine.runWriteback", jobcore.Internal, err)
			}
		}
	}

	if _, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
		j.MarkPhaseComplete(model.PhaseWriteback)
		return nil
	}); err != nil {
		return "", jobcore.New("engine.runWriteback", jobcore.Internal, err)
	}
	return model.PhaseDone, nil
}

func (e *Engine) loadSourceTrack(job *model.Job) (subtitle.Track, error) {
	data, err := os.ReadFile(job.ASROutputPath)
	if err != nil {
		return nil, jobcore.New("engine.loadSourceTrack", jobcore.Internal, err)
	}
	track, err := subtitle.DecodeSRT(bytes.NewReader(data))
	if err != nil {
		return nil, jobcore.New("engine.loadSourceTrack", jobcore.Internal, err)
	}
	return track, nil
}

func (e *Engine) workDirOrDefault() string {
	if e.WorkDir != "" {
		return e.WorkDir
	}
	return os.TempDir()
}
