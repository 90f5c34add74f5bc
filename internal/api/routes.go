package api

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/orchestrate", s.handleOrchestrate)

		decisions := v1.Group("/decisions")
		{
			decisions.GET("/snapshot", s.handleSnapshot)
			decisions.GET("/stream", s.handleStream)
			decisions.GET("/latest-regime", s.handleLatestRegime)
			decisions.GET("/recent/:symbol", s.handleRecentDecisions)
			decisions.GET("/unresolved/:symbol", s.handleUnresolvedDecisions)
		}

		outcomes := v1.Group("/outcomes")
		{
			outcomes.POST("/resolve/:symbol", s.handleResolveOutcomes)
			outcomes.POST("/:traceId", s.handleRecordOutcome)
		}

		agents := v1.Group("/agents")
		{
			agents.GET("/performance", s.handleAgentPerformance)
			agents.GET("/feedback", s.handleAgentFeedback)
		}

		v1.GET("/feedback-loop-status", s.handleFeedbackLoopStatus)
		v1.GET("/decision-metrics/:symbol", s.handleDecisionMetrics)
		v1.GET("/market-state/:symbol", s.handleMarketState)
		v1.GET("/edge-conditions", s.handleEdgeConditions)

		replay := v1.Group("/replay")
		{
			replay.POST("/start", s.handleReplayStart)
			replay.POST("/stop", s.handleReplayStop)
			replay.GET("/status", s.handleReplayStatus)
		}
	}
}
