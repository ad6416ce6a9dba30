// Package arxiv discovers new papers from arXiv's per-category "pastweek"
// listing pages.
package arxiv
