package research

// PlanReviewPrompt is the question shown when a plan review pause surfaces.
const PlanReviewPrompt = "調査計画を編集しますか？ [y/n]"

// planReviewSuffix makes review pause ids deterministic per thread, so a
// resume after a process restart still matches the persisted pause.
const planReviewSuffix = "_research_plan_human_judge"

// PlanReviewPauseID returns the pause id for a thread's plan review.
func PlanReviewPauseID(threadID string) string {
	return threadID + planReviewSuffix
}

const queryAnalyzePrompt = `あなたは調査実行の前段としてクエリを分析するアシスタントです。
以下のユーザークエリを分析し、調査の実行パラメータを決定してください。

- search_queries_per_section: 各セクションで生成する検索クエリの数（1〜5）
- search_iterations: 各クエリに対して実行する検索反復の回数（1〜5）
- reasoning: パラメータ選択の理由

クエリが広範・曖昧であるほど多くの検索が必要になります。単純な事実確認で
あれば最小限の値を選んでください。

ユーザークエリ: %s`

const planPrompt = `あなたは調査計画を立案するリサーチプランナーです。
以下のクエリに対する調査計画を作成してください。

計画には次を含めます。

- purpose: 調査の目的と範囲
- sections: 調査を分割したセクションの一覧（title / focus / key_questions）
- structure: ドキュメントの導入（introduction）と結論（conclusion）の概要
- meta_analysis: 計画に対する分析と推奨事項

セクションは互いに重複せず、全体としてクエリを網羅するように分割してください。

クエリ: %s`

const reflectPrompt = `あなたは検索結果を批判的に分析するアナリストです。
以下の検索クエリとその結果を分析し、次を特定してください。

- key_insights: 重要な洞察（insight / confidence 1〜10 / source_indication）
- information_gaps: 不足している情報や欠けている視点
- contradictions: 矛盾する情報や検証が必要な主張
- improved_queries: さらなる調査のための改善クエリ（query / rationale）
- summary: 振り返りの要約と次のステップへの推奨事項

検索クエリ: %s

検索結果:
%s`

const deepResearchSystemPrompt = `あなたは深堀り調査を行うリサーチエージェントです。
以下の調査計画に従い、ツールを使って情報を収集し、最終レポートを作成してください。

調査計画:
%s

実行ルール:
- 各セクションにつき最大 %d 個の検索クエリを web_research ツールで実行する
- 各クエリについて最大 %d 回まで検索を反復する
- 検索のたびに reflect_on_results ツールで結果を分析し、改善クエリがあれば次の反復で使う
- 日付が関係する場合は get_current_date ツールで本日の日付を確認する
- 十分な情報が集まったら、ツールを呼び出さずに最終レポート本文のみを出力する

最終レポートは計画のセクション構成に従い、導入と結論を含む読みやすい日本語で書いてください。`
