// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the AxonFlow Coordinator service.
//
// The Coordinator is the dynamic front door of a microservice fleet:
// - Registers microservices with their endpoints and migration metadata
// - Builds a knowledge graph of inferred service relationships
// - Routes natural language queries to services via an LLM with fallback
// - Proxies arbitrary HTTP requests to the routed service
//
// Usage:
//
//	./coordinator
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string (optional, in-memory without it)
//	OPENAI_API_KEY - OpenAI API key for AI routing (optional)
//	REDIS_URL - Redis connection string for rate limiting (optional)
//
// For more information, see https://docs.getaxonflow.com
package main

import (
	"axonflow/coordinator/server"
)

func main() {
	server.Run()
}
