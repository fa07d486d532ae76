package subtitle

// Fun-ASR 识别结果的 JSON 结构

// FunASRWord 单个词片段
type FunASRWord struct {
	BeginTime   int64  `json:"begin_time"`
	EndTime     int64  `json:"end_time"`
	Text        string `json:"text"`
	Punctuation string `json:"punctuation"`
}

// FunASRSentence 单个句子片段
type FunASRSentence struct {
	BeginTime  int64        `json:"begin_time"`
	EndTime    int64        `json:"end_time"`
	Text       string       `json:"text"`
	SentenceID int          `json:"sentence_id"`
	SpeakerID  *int         `json:"speaker_id,omitempty"`
	Words      []FunASRWord `json:"words"`
}

// FunASRTranscript 单个声道的转写
type FunASRTranscript struct {
	ChannelID                     int              `json:"channel_id"`
	ContentDurationInMilliseconds int64            `json:"content_duration_in_milliseconds"`
	Text                          string           `json:"text"`
	Sentences                     []FunASRSentence `json:"sentences"`
}

// FunASRResult 完整的识别响应
type FunASRResult struct {
	FileURL     string             `json:"file_url"`
	Transcripts []FunASRTranscript `json:"transcripts"`
}

// NormalizedSentence 归一化后的句子，可直接转 SRT
type NormalizedSentence struct {
	BeginTime int64  `json:"begin_time"`
	EndTime   int64  `json:"end_time"`
	Text      string `json:"text"`
}

// NormalizedTranscript 归一化后的转写
type NormalizedTranscript struct {
	ChannelID int                  `json:"channel_id"`
	Sentences []NormalizedSentence `json:"sentences"`
}
