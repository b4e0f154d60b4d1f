package service

import (
	"sort"
	"strings"
	"unicode"

	"AvatarStudio-server/models"
)

// MaterialScorer 片段文本与素材的相关度打分策略。
// 打分启发式是可替换的；默认实现见 LexicalScorer。
type MaterialScorer interface {
	Score(snippet string, m models.Material) float64
}

// LexicalScorer 词面重合打分：片段与素材分析文本共享的词条数。
// 没有分析文本的素材得 0 分。
type LexicalScorer struct {
	// MinTokenLen 参与比较的最小词长，过滤虚词
	MinTokenLen int
}

func (s LexicalScorer) Score(snippet string, m models.Material) float64 {
	if m.AnalysisText == "" {
		return 0
	}
	minLen := s.MinTokenLen
	if minLen <= 0 {
		minLen = 3
	}
	snippetTokens := tokenize(snippet, minLen)
	if len(snippetTokens) == 0 {
		return 0
	}
	materialTokens := tokenize(m.AnalysisText, minLen)
	score := 0.0
	for tok := range snippetTokens {
		if _, ok := materialTokens[tok]; ok {
			score++
		}
	}
	return score
}

func tokenize(text string, minLen int) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(tok)) >= minLen {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// TimelineReconciler 把配音对齐数据和素材集合算成覆盖全时长的时间轴。
// 结果确定：同样的对齐数据和素材顺序总是得到同样的时间轴。
type TimelineReconciler struct {
	Scorer MaterialScorer
	// Threshold 低于该分数的素材不匹配，片段置 MISSING
	Threshold float64
	// WindowSeconds 文案没有可切分的句子边界时的固定窗口长度
	WindowSeconds float64
}

func NewTimelineReconciler(windowSeconds float64) *TimelineReconciler {
	if windowSeconds <= 0 {
		windowSeconds = 5.0
	}
	return &TimelineReconciler{
		Scorer:        LexicalScorer{},
		Threshold:     1.0,
		WindowSeconds: windowSeconds,
	}
}

// Reconcile 生成时间轴。保证：片段按 start_time 升序、首尾相接、
// 并集恰好是 [0, audio_duration]，最后一段的 end_time 钳到总时长。
func (r *TimelineReconciler) Reconcile(voiceover string, alignment *models.AudioAlignment, materials models.MaterialList) (models.Timeline, error) {
	if alignment == nil || alignment.Empty() {
		return nil, &ValidationError{Reason: "audio alignment is missing"}
	}
	duration := alignment.AudioDuration

	snippets := splitSnippets(voiceover)
	var segments models.Timeline
	if len(snippets) == 0 {
		segments = r.windowSegments(alignment)
	} else {
		starts, ok := snippetStartTimes(snippets, alignment)
		if !ok {
			// 对齐数据与文案对不上时退回平均切分
			starts = evenStartTimes(len(snippets), duration)
		}
		segments = make(models.Timeline, len(snippets))
		for i, snip := range snippets {
			seg := models.TimelineSegment{TextSnippet: snip, MaterialRef: models.MaterialRefMissing}
			if i == 0 {
				seg.StartTime = 0
			} else {
				seg.StartTime = segments[i-1].EndTime
			}
			if i == len(snippets)-1 {
				seg.EndTime = duration
			} else {
				end := starts[i+1]
				if end < seg.StartTime {
					end = seg.StartTime
				}
				seg.EndTime = end
			}
			segments[i] = seg
		}
	}

	r.assignMaterials(segments, materials)

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})
	return segments, nil
}

// assignMaterials 按叙述顺序贪心分配：每个片段在尚未被占用的素材里
// 取分数最高且达到阈值的一个，平分时取上传更早的。
func (r *TimelineReconciler) assignMaterials(segments models.Timeline, materials models.MaterialList) {
	used := make([]bool, len(materials))
	for i := range segments {
		bestIdx := -1
		bestScore := 0.0
		for j, m := range materials {
			if used[j] {
				continue
			}
			score := r.Scorer.Score(segments[i].TextSnippet, m)
			if score >= r.Threshold && score > bestScore {
				bestIdx = j
				bestScore = score
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
			segments[i].MaterialRef = materials[bestIdx].ID
			segments[i].Rationale = "matched analysis keywords"
		} else {
			segments[i].MaterialRef = models.MaterialRefMissing
			segments[i].Rationale = "no matching material"
		}
	}
}

// splitSnippets 按句子边界切分文案，作为时间轴片段的文本。
// 文案中一个边界都没有时返回 nil，调用方退回固定窗口切分。
func splitSnippets(text string) []string {
	var snippets []string
	var cur strings.Builder
	sawBoundary := false
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			snippets = append(snippets, s)
		}
		cur.Reset()
	}
	for _, r := range text {
		cur.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n', '。', '！', '？':
			sawBoundary = true
			flush()
		}
	}
	if !sawBoundary {
		return nil
	}
	flush()
	return snippets
}

// snippetStartTimes 在逐字符对齐数据里定位每个片段的起始时间
func snippetStartTimes(snippets []string, alignment *models.AudioAlignment) ([]float64, bool) {
	if len(alignment.Characters) == 0 || len(alignment.CharStartTimes) != len(alignment.Characters) {
		return nil, false
	}
	full := strings.Join(alignment.Characters, "")
	// 字节偏移 -> 字符下标
	byteToChar := make(map[int]int, len(alignment.Characters))
	offset := 0
	for i, ch := range alignment.Characters {
		byteToChar[offset] = i
		offset += len(ch)
	}

	starts := make([]float64, len(snippets))
	cursor := 0
	for i, snip := range snippets {
		idx := strings.Index(full[cursor:], snip)
		if idx < 0 {
			// 宽松匹配：按片段首词找
			firstWord := snip
			if fields := strings.Fields(snip); len(fields) > 0 {
				firstWord = fields[0]
			}
			idx = strings.Index(full[cursor:], firstWord)
			if idx < 0 {
				return nil, false
			}
		}
		byteIdx := cursor + idx
		charIdx, ok := byteToChar[byteIdx]
		if !ok {
			return nil, false
		}
		starts[i] = alignment.CharStartTimes[charIdx]
		cursor = byteIdx + len(snip)
		if cursor > len(full) {
			cursor = len(full)
		}
	}
	return starts, true
}

func evenStartTimes(n int, duration float64) []float64 {
	starts := make([]float64, n)
	if n == 0 {
		return starts
	}
	step := duration / float64(n)
	for i := range starts {
		starts[i] = float64(i) * step
	}
	return starts
}

// windowSegments 文案没有句子边界时按固定窗口覆盖全时长，
// 每个窗口的文本取对齐数据里落在窗口内的字符
func (r *TimelineReconciler) windowSegments(alignment *models.AudioAlignment) models.Timeline {
	duration := alignment.AudioDuration
	var segments models.Timeline
	for start := 0.0; start < duration; start += r.WindowSeconds {
		end := start + r.WindowSeconds
		if end > duration {
			end = duration
		}
		segments = append(segments, models.TimelineSegment{
			StartTime:   start,
			EndTime:     end,
			TextSnippet: charsInWindow(alignment, start, end),
			MaterialRef: models.MaterialRefMissing,
		})
	}
	if len(segments) == 0 {
		segments = append(segments, models.TimelineSegment{
			StartTime:   0,
			EndTime:     duration,
			MaterialRef: models.MaterialRefMissing,
		})
	}
	return segments
}

func charsInWindow(alignment *models.AudioAlignment, start, end float64) string {
	if len(alignment.CharStartTimes) != len(alignment.Characters) {
		return ""
	}
	var b strings.Builder
	for i, ch := range alignment.Characters {
		t := alignment.CharStartTimes[i]
		if t >= start && t < end {
			b.WriteString(ch)
		}
	}
	return strings.TrimSpace(b.String())
}
