package main

import (
	"flag"

	"go.viam.com/rdk/logging"
	"golang.org/x/exp/rand"

	"manipenv"
)

var (
	episodes = flag.Int("episodes", 5, "number of episodes to run")
	steps    = flag.Int("steps", 50, "steps per episode")
	seed     = flag.Uint64("seed", 1, "randomization seed")
	dualArm  = flag.Bool("dual-arm", false, "run the dual-arm environment instead of the single-effector one")
)

func main() {
	flag.Parse()
	if err := realMain(); err != nil {
		panic(err)
	}
}

func realMain() error {
	logger := logging.NewLogger("rollout")
	if *dualArm {
		return runDualArm(logger)
	}
	return runSingleEffector(logger)
}

func runSingleEffector(logger logging.Logger) error {
	cfg := manipenv.DefaultTaskConfig()
	cfg.Seed = *seed
	sim := manipenv.NewSingleEffectorFakeSim(cfg)
	env, err := manipenv.NewSingleEffectorEnv(cfg, sim, logger)
	if err != nil {
		return err
	}
	return runEpisodes(logger, env.ActionSpace(), env.Reset,
		func(a []float64) (float64, float64, error) {
			_, reward, _, info, err := env.Step(a)
			return reward, info.IsSuccess, err
		})
}

func runDualArm(logger logging.Logger) error {
	cfg := manipenv.DefaultDualArmConfig()
	cfg.Seed = *seed
	sim := manipenv.NewDualArmFakeSim(cfg)
	env, err := manipenv.NewDualArmEnv(cfg, sim, logger)
	if err != nil {
		return err
	}
	return runEpisodes(logger, env.ActionSpace(), env.Reset,
		func(a []float64) (float64, float64, error) {
			_, reward, _, info, err := env.Step(a)
			return reward, info.IsSuccess, err
		})
}

// runEpisodes drives a uniform random policy and reports per-episode returns.
func runEpisodes(
	logger logging.Logger,
	space manipenv.BoxSpace,
	reset func() (manipenv.Observation, error),
	step func(action []float64) (reward, success float64, err error),
) error {
	rng := rand.New(rand.NewSource(*seed))
	for ep := 1; ep <= *episodes; ep++ {
		if _, err := reset(); err != nil {
			return err
		}
		var ret, successes float64
		for i := 0; i < *steps; i++ {
			action := make([]float64, space.Size())
			for j := range action {
				action[j] = rng.Float64()*2 - 1
			}
			reward, success, err := step(action)
			if err != nil {
				return err
			}
			ret += reward
			successes += success
		}
		logger.Infof("episode %d: return=%.2f success_steps=%.0f/%d", ep, ret, successes, *steps)
	}
	return nil
}
