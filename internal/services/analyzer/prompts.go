package analyzer

import "siteaudit/internal/domain"

const systemPrompt = "You are an expert SEO auditor. Output strictly valid JSON."

const findingShape = `Each finding is an object with "severity" ("critical", "medium" or "low"), "issue" (what is wrong) and "recommendation" (how to fix it).`

var categoryPrompts = map[domain.Module]string{
	domain.ModuleSEO: `Analyze this website content for SEO. Focus on keywords, heading structure, and meta tags (title length, description presence and quality).
Return a JSON object with: "score" (integer 0-100) and "findings" (array). ` + findingShape,

	domain.ModuleAEO: `Analyze this content for AEO (Answer Engine Optimization). Is it concise enough to be lifted into a featured snippet? Does it answer the questions a customer would ask, ideally in FAQ form? Is the tone conversational?
Return a JSON object with: "score" (integer 0-100) and "findings" (array). ` + findingShape,

	domain.ModuleGEO: `Analyze this content for GEO (Generative Engine Optimization). Does it show E-E-A-T signals (experience, expertise, authoritativeness, trust)? Does it cover its topic in depth and cite sources a generative engine would trust?
Return a JSON object with: "score" (integer 0-100) and "findings" (array). ` + findingShape,

	domain.ModuleGMB: `Analyze this business information for Google Business Profile optimization. Judge how well a local customer could find and trust this business: name consistency, location clarity, service description, and review/trust signals.
Return a JSON object with: "score" (integer 0-100) and "findings" (array). ` + findingShape,
}
