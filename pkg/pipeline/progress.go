package pipeline

import "github.com/dtnitsch/llm-doc-summarizer/models"

// stageRanges are the slices of the 0-100 bar each stage fills.
var stageRanges = map[models.Stage][2]int{
	models.StageFetching:    {0, 10},
	models.StageChunking:    {10, 20},
	models.StageSummarizing: {20, 80},
	models.StageCombining:   {80, 85},
	models.StageOptimizing:  {85, 99},
}

// scaled maps done/total units of a stage onto the stage's range.
func scaled(stage models.Stage, done, total int) int {
	r := stageRanges[stage]
	if total <= 0 {
		return r[0]
	}
	done = min(max(done, 0), total)
	return r[0] + (r[1]-r[0])*done/total
}

// stageEnd is where the bar stands once a stage has finished.
func stageEnd(stage models.Stage) int {
	return stageRanges[stage][1]
}
