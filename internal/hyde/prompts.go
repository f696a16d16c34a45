package hyde

import "fmt"

// stage1Prompt asks for hypothetical code answering the raw query. Output
// format instructions keep the response to a bare snippet; fences are
// stripped afterwards regardless.
const stage1Prompt = `You are an expert software engineer. Your task is to predict code that answers the given query.

Instructions:
1. Analyze the query carefully.
2. Generate concise, idiomatic code that addresses the query.
3. Include specific method names, class names, and key concepts in your response.
4. You may guess the language based on the context provided.
5. Focus on the structure and key elements rather than complete implementation.

Output format:
- Provide only the predicted code snippet.
- Do not include any explanatory text outside the code.
- Include relevant function signatures, class definitions, and key logic.

Query: %s
Output:`

// stage2Prompt regenerates the hypothetical code grounded in retrieved
// context, so the output picks up the codebase's actual naming and idiom.
const stage2Prompt = `You are an expert software engineer. Your task is to enhance the original query: %s using the provided context: %s

Instructions:
1. Analyze the query and context thoroughly.
2. Expand the query with relevant code-specific details: precise method names, class names, and key concepts.
3. Incorporate keywords from the context that are most pertinent to answering the query.
4. Ensure the enhanced code matches the style and patterns found in the context.
5. You may infer the language and coding conventions from the context provided.
6. Focus on realistic implementation that would exist in the codebase.

Output format:
- Provide only the enhanced code snippet.
- Do not include any explanatory text or additional commentary.
- Match the style and naming conventions from the context.

Predict the answer to the query: %s
Output:`

func buildStage1Prompt(query string) string {
	return fmt.Sprintf(stage1Prompt, query)
}

func buildStage2Prompt(query, context, v1 string) string {
	return fmt.Sprintf(stage2Prompt, query, context, v1)
}
